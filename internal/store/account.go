package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gcc-cricket/clubserver/types"
)

// AccountRepository handles persistence for accounts and their profiles.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `
	a.id, a.email, a.password_hash, a.fname, a.sname, a.id_num, a.contact, a.dob,
	a.postal_add, a.residential_add, a.nationality, a.created_at, a.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner, extra ...any) (types.Account, error) {
	var account types.Account
	var dob sql.NullTime
	dest := []any{
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.FName,
		&account.SName,
		&account.IDNum,
		&account.Contact,
		&dob,
		&account.PostalAdd,
		&account.ResidentialAdd,
		&account.Nationality,
		&account.CreatedAt,
		&account.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return types.Account{}, err
	}
	if dob.Valid {
		t := dob.Time
		account.DOB = &t
	}
	return account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id int) (types.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts a WHERE a.id = $1`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	return account, nil
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts a WHERE a.email = $1`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	return account, nil
}

// ExistsByIDNum reports whether an account already uses the id number.
func (r *AccountRepository) ExistsByIDNum(ctx context.Context, idNum string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM accounts WHERE id_num = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, idNum).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *AccountRepository) List(ctx context.Context) ([]types.Account, error) {
	query := `SELECT` + accountColumns + ` FROM accounts a ORDER BY a.id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]types.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Profiles loads every profile of the account in a single round trip.
func (r *AccountRepository) Profiles(ctx context.Context, accountID int) (types.ProfileSet, error) {
	const query = `
		SELECT
			ca.account_id, ca.admin_level,
			u.account_id, u.certification_id,
			m.account_id,
			p.id, p.team_name, p.group_name, p.is_team_admin, p.photo_key, p.created_at
		FROM accounts a
		LEFT JOIN club_admin_profiles ca ON ca.account_id = a.id
		LEFT JOIN umpire_profiles u ON u.account_id = a.id
		LEFT JOIN member_profiles m ON m.account_id = a.id
		LEFT JOIN player_profiles p ON p.account_id = a.id
		WHERE a.id = $1`

	var (
		caID, uID, mID, pID   sql.NullInt64
		adminLevel, certID    sql.NullString
		team, group, photoKey sql.NullString
		isTeamAdmin           sql.NullBool
		playerCreated         sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&caID, &adminLevel,
		&uID, &certID,
		&mID,
		&pID, &team, &group, &isTeamAdmin, &photoKey, &playerCreated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ProfileSet{}, ErrNotFound
		}
		return types.ProfileSet{}, err
	}

	var set types.ProfileSet
	if caID.Valid {
		set.ClubAdmin = &types.ClubAdminProfile{AccountID: accountID, AdminLevel: adminLevel.String}
	}
	if uID.Valid {
		set.Umpire = &types.UmpireProfile{AccountID: accountID, CertificationID: certID.String}
	}
	if mID.Valid {
		set.Member = &types.MemberProfile{AccountID: accountID}
	}
	if pID.Valid {
		set.Player = &types.PlayerProfile{
			ID:          int(pID.Int64),
			AccountID:   accountID,
			TeamName:    team.String,
			Group:       group.String,
			IsTeamAdmin: isTeamAdmin.Bool,
			PhotoKey:    photoKey.String,
			CreatedAt:   playerCreated.Time,
		}
	}
	return set, nil
}

// CreateWithProfiles inserts the account and every non-nil profile in one
// transaction. Unique violations surface as *ConflictError.
func (r *AccountRepository) CreateWithProfiles(ctx context.Context, account types.Account, profiles types.ProfileSet) (types.Account, error) {
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Account{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertAccount = `
		INSERT INTO accounts (email, password_hash, fname, sname, id_num, contact, dob,
			postal_add, residential_add, nationality, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertAccount,
		account.Email,
		account.PasswordHash,
		account.FName,
		account.SName,
		account.IDNum,
		account.Contact,
		account.DOB,
		account.PostalAdd,
		account.ResidentialAdd,
		account.Nationality,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID); err != nil {
		return types.Account{}, mapConstraintError(err)
	}

	if p := profiles.ClubAdmin; p != nil {
		const q = `INSERT INTO club_admin_profiles (account_id, admin_level) VALUES ($1, $2)`
		if _, err := tx.ExecContext(ctx, q, account.ID, p.AdminLevel); err != nil {
			return types.Account{}, mapConstraintError(err)
		}
	}
	if p := profiles.Umpire; p != nil {
		const q = `INSERT INTO umpire_profiles (account_id, certification_id) VALUES ($1, $2)`
		if _, err := tx.ExecContext(ctx, q, account.ID, p.CertificationID); err != nil {
			return types.Account{}, mapConstraintError(err)
		}
	}
	if p := profiles.Member; p != nil {
		const q = `INSERT INTO member_profiles (account_id) VALUES ($1)`
		if _, err := tx.ExecContext(ctx, q, account.ID); err != nil {
			return types.Account{}, mapConstraintError(err)
		}
	}
	if p := profiles.Player; p != nil {
		if _, err := insertPlayerProfile(ctx, tx, account.ID, *p, now); err != nil {
			return types.Account{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return types.Account{}, err
	}
	return account, nil
}

// AddPlayerProfile attaches a player profile to an existing account. A second
// profile for the same account fails with a ConflictError on FieldPlayerProfile.
func (r *AccountRepository) AddPlayerProfile(ctx context.Context, accountID int, profile types.PlayerProfile) (types.PlayerProfile, error) {
	return insertPlayerProfile(ctx, r.db, accountID, profile, time.Now())
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertPlayerProfile(ctx context.Context, q rowQuerier, accountID int, profile types.PlayerProfile, now time.Time) (types.PlayerProfile, error) {
	profile.AccountID = accountID
	profile.CreatedAt = now

	const query = `
		INSERT INTO player_profiles (account_id, team_name, group_name, is_team_admin, photo_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := q.QueryRowContext(
		ctx,
		query,
		profile.AccountID,
		profile.TeamName,
		profile.Group,
		profile.IsTeamAdmin,
		profile.PhotoKey,
		profile.CreatedAt,
	).Scan(&profile.ID); err != nil {
		if isForeignKeyViolation(err) {
			return types.PlayerProfile{}, ErrNotFound
		}
		return types.PlayerProfile{}, mapConstraintError(err)
	}
	return profile, nil
}

func (r *AccountRepository) UpdatePlayerProfile(ctx context.Context, profile types.PlayerProfile) (types.PlayerProfile, error) {
	const query = `
		UPDATE player_profiles
		SET team_name = $1,
			group_name = $2,
			is_team_admin = $3,
			photo_key = $4
		WHERE account_id = $5`
	result, err := r.db.ExecContext(
		ctx,
		query,
		profile.TeamName,
		profile.Group,
		profile.IsTeamAdmin,
		profile.PhotoKey,
		profile.AccountID,
	)
	if err != nil {
		return types.PlayerProfile{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.PlayerProfile{}, err
	}
	if affected == 0 {
		return types.PlayerProfile{}, ErrNotFound
	}
	return profile, nil
}

// ListPlayersByTeam returns every player on the team ordered by account id.
func (r *AccountRepository) ListPlayersByTeam(ctx context.Context, team string) ([]types.TeamPlayer, error) {
	query := `SELECT` + accountColumns + `,
			p.id, p.team_name, p.group_name, p.is_team_admin, p.photo_key, p.created_at
		FROM accounts a
		JOIN player_profiles p ON p.account_id = a.id
		WHERE p.team_name = $1
		ORDER BY a.id`
	rows, err := r.db.QueryContext(ctx, query, team)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	players := make([]types.TeamPlayer, 0)
	for rows.Next() {
		var p types.PlayerProfile
		account, err := scanAccount(rows, &p.ID, &p.TeamName, &p.Group, &p.IsTeamAdmin, &p.PhotoKey, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		p.AccountID = account.ID
		players = append(players, types.TeamPlayer{Account: account, Profile: p})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return players, nil
}

// Delete removes the account; profiles and receipts cascade.
func (r *AccountRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM accounts WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
