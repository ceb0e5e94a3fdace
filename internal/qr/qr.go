// Package qr renders and reads membership credentials.
package qr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"

	"github.com/gcc-cricket/clubserver/types"
	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/skip2/go-qrcode"
)

// Size is the edge length of rendered credentials in pixels.
const Size = 256

var (
	// ErrNoCode is returned when an image holds no readable QR code.
	ErrNoCode = errors.New("no qr code found in image")
	// ErrMalformed is returned when decoded text is not a credential payload.
	ErrMalformed = errors.New("malformed qr payload")
)

// Encode renders the payload as a PNG.
func Encode(payload types.QRPayload) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal qr payload: %w", err)
	}
	png, err := qrcode.Encode(string(data), qrcode.Medium, Size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}

// Decode reads the text of the first QR code in a PNG, JPEG or GIF image.
// It returns ctx.Err() if ctx is done before decoding finishes.
func Decode(ctx context.Context, data []byte) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := decode(data)
		done <- result{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}

func decode(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	res, err := zxingqr.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	return res.GetText(), nil
}

// ParsePayload parses decoded credential text. Single-quoted JSON-like text
// is accepted. A payload whose id is not a positive 32-bit integer is
// malformed, matching the accounts primary key.
func ParsePayload(text string) (types.QRPayload, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.QRPayload{}, ErrMalformed
	}

	var raw struct {
		ID              json.Number `json:"id"`
		Name            string      `json:"name"`
		TeamName        string      `json:"team_name"`
		ProfilePhotoURL string      `json:"profile_photo_url"`
	}
	if err := unmarshalLenient(text, &raw); err != nil {
		return types.QRPayload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	id, err := raw.ID.Int64()
	if err != nil || id <= 0 || id > math.MaxInt32 {
		return types.QRPayload{}, ErrMalformed
	}
	return types.QRPayload{
		ID:              int(id),
		Name:            raw.Name,
		TeamName:        raw.TeamName,
		ProfilePhotoURL: raw.ProfilePhotoURL,
	}, nil
}

func unmarshalLenient(text string, v any) error {
	err := json.Unmarshal([]byte(text), v)
	if err == nil || !strings.Contains(text, "'") {
		return err
	}
	return json.Unmarshal([]byte(strings.ReplaceAll(text, "'", `"`)), v)
}
