// Package memstore is an in-memory implementation of the account and receipt
// repositories. It enforces the same uniqueness and locking rules as the
// Postgres store and backs tests and local runs without a database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gcc-cricket/clubserver/internal/store"
	"github.com/gcc-cricket/clubserver/types"
)

// Store holds all records behind one mutex. Receipt transitions additionally
// take a per-receipt lock so that fn can call back into the store.
type Store struct {
	mu sync.RWMutex

	nextAccountID int
	nextPlayerID  int
	nextReceiptID int

	accounts   map[int]types.Account
	clubAdmins map[int]types.ClubAdminProfile
	umpires    map[int]types.UmpireProfile
	members    map[int]types.MemberProfile
	players    map[int]types.PlayerProfile
	receipts   map[int]types.Receipt

	lockMu       sync.Mutex
	receiptLocks map[int]*sync.Mutex
}

func New() *Store {
	return &Store{
		accounts:     make(map[int]types.Account),
		clubAdmins:   make(map[int]types.ClubAdminProfile),
		umpires:      make(map[int]types.UmpireProfile),
		members:      make(map[int]types.MemberProfile),
		players:      make(map[int]types.PlayerProfile),
		receipts:     make(map[int]types.Receipt),
		receiptLocks: make(map[int]*sync.Mutex),
	}
}

// Accounts returns the account repository view of the store.
func (s *Store) Accounts() *AccountRepository {
	return &AccountRepository{s: s}
}

// Receipts returns the receipt repository view of the store.
func (s *Store) Receipts() *ReceiptRepository {
	return &ReceiptRepository{s: s}
}

// AccountRepository is the in-memory counterpart of store.AccountRepository.
type AccountRepository struct {
	s *Store
}

func (r *AccountRepository) GetByID(_ context.Context, id int) (types.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	account, ok := r.s.accounts[id]
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	return account, nil
}

func (r *AccountRepository) GetByEmail(_ context.Context, email string) (types.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, account := range r.s.accounts {
		if account.Email == email {
			return account, nil
		}
	}
	return types.Account{}, store.ErrNotFound
}

func (r *AccountRepository) ExistsByIDNum(_ context.Context, idNum string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, account := range r.s.accounts {
		if account.IDNum == idNum {
			return true, nil
		}
	}
	return false, nil
}

func (r *AccountRepository) List(_ context.Context) ([]types.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	accounts := make([]types.Account, 0, len(r.s.accounts))
	for _, account := range r.s.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (r *AccountRepository) Profiles(_ context.Context, accountID int) (types.ProfileSet, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if _, ok := r.s.accounts[accountID]; !ok {
		return types.ProfileSet{}, store.ErrNotFound
	}
	return r.s.profilesLocked(accountID), nil
}

func (s *Store) profilesLocked(accountID int) types.ProfileSet {
	var set types.ProfileSet
	if p, ok := s.clubAdmins[accountID]; ok {
		set.ClubAdmin = &p
	}
	if p, ok := s.umpires[accountID]; ok {
		set.Umpire = &p
	}
	if p, ok := s.members[accountID]; ok {
		set.Member = &p
	}
	if p, ok := s.players[accountID]; ok {
		set.Player = &p
	}
	return set
}

func (r *AccountRepository) CreateWithProfiles(_ context.Context, account types.Account, profiles types.ProfileSet) (types.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.accounts {
		if existing.Email == account.Email {
			return types.Account{}, &store.ConflictError{Field: store.FieldEmail}
		}
		if existing.IDNum == account.IDNum {
			return types.Account{}, &store.ConflictError{Field: store.FieldIDNum}
		}
	}

	now := time.Now()
	r.s.nextAccountID++
	account.ID = r.s.nextAccountID
	account.CreatedAt = now
	account.UpdatedAt = now
	r.s.accounts[account.ID] = account

	if p := profiles.ClubAdmin; p != nil {
		profile := *p
		profile.AccountID = account.ID
		r.s.clubAdmins[account.ID] = profile
	}
	if p := profiles.Umpire; p != nil {
		profile := *p
		profile.AccountID = account.ID
		r.s.umpires[account.ID] = profile
	}
	if p := profiles.Member; p != nil {
		r.s.members[account.ID] = types.MemberProfile{AccountID: account.ID}
	}
	if p := profiles.Player; p != nil {
		r.s.insertPlayerLocked(account.ID, *p, now)
	}
	return account, nil
}

func (r *AccountRepository) AddPlayerProfile(_ context.Context, accountID int, profile types.PlayerProfile) (types.PlayerProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.accounts[accountID]; !ok {
		return types.PlayerProfile{}, store.ErrNotFound
	}
	if _, ok := r.s.players[accountID]; ok {
		return types.PlayerProfile{}, &store.ConflictError{Field: store.FieldPlayerProfile}
	}
	return r.s.insertPlayerLocked(accountID, profile, time.Now()), nil
}

func (s *Store) insertPlayerLocked(accountID int, profile types.PlayerProfile, now time.Time) types.PlayerProfile {
	s.nextPlayerID++
	profile.ID = s.nextPlayerID
	profile.AccountID = accountID
	profile.CreatedAt = now
	s.players[accountID] = profile
	return profile
}

func (r *AccountRepository) UpdatePlayerProfile(_ context.Context, profile types.PlayerProfile) (types.PlayerProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.players[profile.AccountID]
	if !ok {
		return types.PlayerProfile{}, store.ErrNotFound
	}
	current.TeamName = profile.TeamName
	current.Group = profile.Group
	current.IsTeamAdmin = profile.IsTeamAdmin
	current.PhotoKey = profile.PhotoKey
	r.s.players[profile.AccountID] = current
	return current, nil
}

func (r *AccountRepository) ListPlayersByTeam(_ context.Context, team string) ([]types.TeamPlayer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	players := make([]types.TeamPlayer, 0)
	for accountID, profile := range r.s.players {
		if profile.TeamName != team {
			continue
		}
		players = append(players, types.TeamPlayer{Account: r.s.accounts[accountID], Profile: profile})
	}
	sort.Slice(players, func(i, j int) bool { return players[i].Account.ID < players[j].Account.ID })
	return players, nil
}

// Delete removes the account together with its profiles and receipts,
// mirroring the cascading foreign keys of the database schema.
func (r *AccountRepository) Delete(_ context.Context, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.accounts[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.s.accounts, id)
	delete(r.s.clubAdmins, id)
	delete(r.s.umpires, id)
	delete(r.s.members, id)
	delete(r.s.players, id)
	for receiptID, receipt := range r.s.receipts {
		if receipt.PlayerID == id || receipt.UploadedBy == id {
			delete(r.s.receipts, receiptID)
			continue
		}
		changed := false
		if receipt.ReviewedBy != nil && *receipt.ReviewedBy == id {
			receipt.ReviewedBy = nil
			changed = true
		}
		if receipt.QRSubjectID != nil && *receipt.QRSubjectID == id {
			receipt.QRSubjectID = nil
			changed = true
		}
		if changed {
			r.s.receipts[receiptID] = receipt
		}
	}
	return nil
}

// ReceiptRepository is the in-memory counterpart of store.ReceiptRepository.
type ReceiptRepository struct {
	s *Store
}

func (r *ReceiptRepository) Create(_ context.Context, receipt types.Receipt) (types.Receipt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.accounts[receipt.PlayerID]; !ok {
		return types.Receipt{}, store.ErrNotFound
	}
	if _, ok := r.s.accounts[receipt.UploadedBy]; !ok {
		return types.Receipt{}, store.ErrNotFound
	}

	r.s.nextReceiptID++
	receipt.ID = r.s.nextReceiptID
	receipt.UploadedAt = time.Now()
	if receipt.Status == "" {
		receipt.Status = types.ReceiptUnverified
	}
	r.s.receipts[receipt.ID] = receipt
	return receipt, nil
}

func (r *ReceiptRepository) Get(_ context.Context, id int) (types.Receipt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	receipt, ok := r.s.receipts[id]
	if !ok {
		return types.Receipt{}, store.ErrNotFound
	}
	return receipt, nil
}

func (r *ReceiptRepository) List(_ context.Context, filter types.ReceiptFilter) ([]types.Receipt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	receipts := make([]types.Receipt, 0)
	for _, receipt := range r.s.receipts {
		if matches(receipt, filter) {
			receipts = append(receipts, receipt)
		}
	}
	sort.Slice(receipts, func(i, j int) bool {
		if !receipts[i].UploadedAt.Equal(receipts[j].UploadedAt) {
			return receipts[i].UploadedAt.After(receipts[j].UploadedAt)
		}
		return receipts[i].ID > receipts[j].ID
	})
	if filter.Limit > 0 && len(receipts) > filter.Limit {
		receipts = receipts[:filter.Limit]
	}
	return receipts, nil
}

func matches(receipt types.Receipt, filter types.ReceiptFilter) bool {
	if filter.Status != "" && receipt.Status != filter.Status {
		return false
	}
	if filter.PlayerID > 0 && receipt.PlayerID != filter.PlayerID {
		return false
	}
	if filter.UploadedBy > 0 && receipt.UploadedBy != filter.UploadedBy {
		return false
	}
	if filter.QRSubjectID > 0 && (receipt.QRSubjectID == nil || *receipt.QRSubjectID != filter.QRSubjectID) {
		return false
	}
	if filter.Involving > 0 && receipt.PlayerID != filter.Involving && receipt.UploadedBy != filter.Involving {
		return false
	}
	return true
}

// Transition serialises callers per receipt id. fn runs without the store
// mutex held, so it may read accounts and receipts.
func (r *ReceiptRepository) Transition(ctx context.Context, id int, fn func(types.Receipt) (types.Receipt, error)) (types.Receipt, error) {
	lock := r.s.receiptLock(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := r.Get(ctx, id)
	if err != nil {
		return types.Receipt{}, err
	}

	next, err := fn(current)
	if err != nil {
		return types.Receipt{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.Receipt{}, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.receipts[id]
	if !ok {
		return types.Receipt{}, store.ErrNotFound
	}
	stored.Status = next.Status
	stored.ReviewedAt = next.ReviewedAt
	stored.ReviewedBy = next.ReviewedBy
	stored.ReviewNote = next.ReviewNote
	stored.QRKey = next.QRKey
	stored.QRSubjectID = next.QRSubjectID
	r.s.receipts[id] = stored
	return stored, nil
}

func (s *Store) receiptLock(id int) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	lock, ok := s.receiptLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.receiptLocks[id] = lock
	}
	return lock
}
