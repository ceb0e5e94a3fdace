/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/gcc-cricket/clubserver/cmd"

func main() {
	cmd.Execute()
}
