package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gcc-cricket/clubserver/types"
)

// ReceiptRepository handles persistence for payment receipts.
type ReceiptRepository struct {
	db *sql.DB
}

func NewReceiptRepository(db *sql.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

const receiptColumns = `
	id, player_id, uploaded_by, file_key, note, status, uploaded_at,
	reviewed_at, reviewed_by, review_note, qr_key, qr_subject_id`

func scanReceipt(row rowScanner) (types.Receipt, error) {
	var receipt types.Receipt
	var reviewedAt sql.NullTime
	var reviewedBy, qrSubject sql.NullInt64
	if err := row.Scan(
		&receipt.ID,
		&receipt.PlayerID,
		&receipt.UploadedBy,
		&receipt.FileKey,
		&receipt.Note,
		&receipt.Status,
		&receipt.UploadedAt,
		&reviewedAt,
		&reviewedBy,
		&receipt.ReviewNote,
		&receipt.QRKey,
		&qrSubject,
	); err != nil {
		return types.Receipt{}, err
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		receipt.ReviewedAt = &t
	}
	if reviewedBy.Valid {
		id := int(reviewedBy.Int64)
		receipt.ReviewedBy = &id
	}
	if qrSubject.Valid {
		id := int(qrSubject.Int64)
		receipt.QRSubjectID = &id
	}
	return receipt, nil
}

func (r *ReceiptRepository) Create(ctx context.Context, receipt types.Receipt) (types.Receipt, error) {
	receipt.UploadedAt = time.Now()
	if receipt.Status == "" {
		receipt.Status = types.ReceiptUnverified
	}

	const query = `
		INSERT INTO receipts (player_id, uploaded_by, file_key, note, status, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		receipt.PlayerID,
		receipt.UploadedBy,
		receipt.FileKey,
		receipt.Note,
		receipt.Status,
		receipt.UploadedAt,
	).Scan(&receipt.ID); err != nil {
		if isForeignKeyViolation(err) {
			return types.Receipt{}, ErrNotFound
		}
		return types.Receipt{}, err
	}
	return receipt, nil
}

func (r *ReceiptRepository) Get(ctx context.Context, id int) (types.Receipt, error) {
	query := `SELECT` + receiptColumns + ` FROM receipts WHERE id = $1`
	receipt, err := scanReceipt(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Receipt{}, ErrNotFound
		}
		return types.Receipt{}, err
	}
	return receipt, nil
}

// List returns receipts matching the filter, most recent upload first.
func (r *ReceiptRepository) List(ctx context.Context, filter types.ReceiptFilter) ([]types.Receipt, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.PlayerID > 0 {
		add("player_id = $%d", filter.PlayerID)
	}
	if filter.UploadedBy > 0 {
		add("uploaded_by = $%d", filter.UploadedBy)
	}
	if filter.QRSubjectID > 0 {
		add("qr_subject_id = $%d", filter.QRSubjectID)
	}
	if filter.Involving > 0 {
		args = append(args, filter.Involving)
		conds = append(conds, fmt.Sprintf("(player_id = $%d OR uploaded_by = $%d)", len(args), len(args)))
	}

	query := `SELECT` + receiptColumns + ` FROM receipts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY uploaded_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receipts := make([]types.Receipt, 0)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

// Transition locks the receipt row, hands the current state to fn and
// persists the review fields of the receipt fn returns. Concurrent callers
// for the same id are serialised by the row lock, so fn always observes the
// committed state of the previous caller. Nothing is written if fn fails.
func (r *ReceiptRepository) Transition(ctx context.Context, id int, fn func(types.Receipt) (types.Receipt, error)) (types.Receipt, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Receipt{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `SELECT` + receiptColumns + ` FROM receipts WHERE id = $1 FOR UPDATE`
	current, err := scanReceipt(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Receipt{}, ErrNotFound
		}
		return types.Receipt{}, err
	}

	next, err := fn(current)
	if err != nil {
		return types.Receipt{}, err
	}

	const update = `
		UPDATE receipts
		SET status = $1,
			reviewed_at = $2,
			reviewed_by = $3,
			review_note = $4,
			qr_key = $5,
			qr_subject_id = $6
		WHERE id = $7`
	if _, err := tx.ExecContext(
		ctx,
		update,
		next.Status,
		next.ReviewedAt,
		next.ReviewedBy,
		next.ReviewNote,
		next.QRKey,
		next.QRSubjectID,
		id,
	); err != nil {
		return types.Receipt{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Receipt{}, err
	}
	next.ID = id
	return next, nil
}
