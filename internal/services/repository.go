package services

import (
	"context"
	"io"

	"github.com/gcc-cricket/clubserver/internal/storage"
	"github.com/gcc-cricket/clubserver/types"
)

// AccountRepository defines persistence operations for accounts and their
// profiles.
type AccountRepository interface {
	GetByID(ctx context.Context, id int) (types.Account, error)
	GetByEmail(ctx context.Context, email string) (types.Account, error)
	ExistsByIDNum(ctx context.Context, idNum string) (bool, error)
	List(ctx context.Context) ([]types.Account, error)
	Profiles(ctx context.Context, accountID int) (types.ProfileSet, error)
	CreateWithProfiles(ctx context.Context, account types.Account, profiles types.ProfileSet) (types.Account, error)
	AddPlayerProfile(ctx context.Context, accountID int, profile types.PlayerProfile) (types.PlayerProfile, error)
	UpdatePlayerProfile(ctx context.Context, profile types.PlayerProfile) (types.PlayerProfile, error)
	ListPlayersByTeam(ctx context.Context, team string) ([]types.TeamPlayer, error)
	Delete(ctx context.Context, id int) error
}

// ReceiptRepository defines persistence operations for receipts.
type ReceiptRepository interface {
	Create(ctx context.Context, receipt types.Receipt) (types.Receipt, error)
	Get(ctx context.Context, id int) (types.Receipt, error)
	List(ctx context.Context, filter types.ReceiptFilter) ([]types.Receipt, error)
	// Transition loads the receipt under an exclusive lock, applies fn and
	// persists the result. Nothing is written when fn fails.
	Transition(ctx context.Context, id int, fn func(types.Receipt) (types.Receipt, error)) (types.Receipt, error)
}

// ObjectStore stores uploaded files and rendered credentials.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (storage.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// EventPublisher delivers domain events to a broker.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// SessionRevoker drops refresh sessions.
type SessionRevoker interface {
	RevokeAccount(ctx context.Context, accountID int) error
}
