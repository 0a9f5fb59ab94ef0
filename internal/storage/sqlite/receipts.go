package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidrmellors/receipt-splitter/internal/models"
)

const dateLayout = "2006-01-02"

const receiptColumns = `id, group_id, store_name, purchase_date, status, paid_by_member_id,
	image_url, subtotal, tax, total, uploaded_by, created_at`

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

// CreateReceipt persists a new receipt with items and assignments.
func (s *SQLiteStore) CreateReceipt(ctx context.Context, receipt *models.Receipt) error {
	if receipt.ID == "" {
		receipt.ID = uuid.New().String()
	}
	if receipt.CreatedAt == 0 {
		receipt.CreatedAt = time.Now().Unix()
	}
	if receipt.Status == "" {
		receipt.Status = models.ReceiptPending
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO receipts (`+receiptColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		receipt.ID, receipt.GroupID, receipt.StoreName, formatDate(receipt.Date), string(receipt.Status),
		nullString(receipt.PaidByMemberID), receipt.ImageURL,
		receipt.Subtotal, receipt.Tax, receipt.Total,
		receipt.UploadedBy, receipt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}

	if err := insertItems(ctx, tx, receipt.ID, receipt.Items); err != nil {
		return err
	}
	for itemID, a := range receipt.Assignments {
		if err := insertAssignment(ctx, tx, receipt.ID, itemID, a); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertItems(ctx context.Context, tx *sql.Tx, receiptID string, items []models.Item) error {
	for i := range items {
		item := &items[i]
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		if item.Category == "" {
			item.Category = "other"
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO items (receipt_id, id, position, name, unit_price, quantity, category)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			receiptID, item.ID, i, item.Name, item.UnitPrice, item.Quantity, item.Category,
		)
		if err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
	}
	return nil
}

func insertAssignment(ctx context.Context, tx *sql.Tx, receiptID, itemID string, a models.Assignment) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO assignments (receipt_id, item_id, kind, target_member_id) VALUES (?, ?, ?, ?)",
		receiptID, itemID, string(a.Kind), nullString(a.TargetMemberID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert assignment: %w", err)
	}
	for i, share := range a.Shares {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO assignment_shares (receipt_id, item_id, position, member_id, amount)
			 VALUES (?, ?, ?, ?, ?)`,
			receiptID, itemID, i, share.MemberID, share.Amount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert assignment share: %w", err)
		}
	}
	return nil
}

func scanReceipt(row scanner) (*models.Receipt, error) {
	r := &models.Receipt{Assignments: make(map[string]models.Assignment)}
	var date, status string
	var paidBy sql.NullString
	err := row.Scan(&r.ID, &r.GroupID, &r.StoreName, &date, &status, &paidBy,
		&r.ImageURL, &r.Subtotal, &r.Tax, &r.Total, &r.UploadedBy, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if date != "" {
		if r.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("bad purchase date %q: %w", date, err)
		}
	}
	r.Status = models.ReceiptStatus(status)
	r.PaidByMemberID = paidBy.String
	return r, nil
}

// GetReceipt retrieves a receipt by ID, including items and assignments.
func (s *SQLiteStore) GetReceipt(ctx context.Context, receiptID string) (*models.Receipt, error) {
	r, err := scanReceipt(s.db.QueryRowContext(ctx,
		"SELECT "+receiptColumns+" FROM receipts WHERE id = ?", receiptID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("receipt", receiptID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	byID := map[string]*models.Receipt{r.ID: r}
	if err := s.loadDetails(ctx, "receipt_id = ?", receiptID, byID); err != nil {
		return nil, err
	}
	return r, nil
}

// ListReceiptsByGroup retrieves every receipt of a group, newest first.
func (s *SQLiteStore) ListReceiptsByGroup(ctx context.Context, groupID string) ([]*models.Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+receiptColumns+" FROM receipts WHERE group_id = ? ORDER BY created_at DESC, id",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*models.Receipt
	byID := make(map[string]*models.Receipt)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, r)
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipts: %w", err)
	}
	if len(receipts) == 0 {
		return receipts, nil
	}

	scope := "receipt_id IN (SELECT id FROM receipts WHERE group_id = ?)"
	if err := s.loadDetails(ctx, scope, groupID, byID); err != nil {
		return nil, err
	}
	return receipts, nil
}

// loadDetails fills items, assignments and shares for the receipts matched by scope.
func (s *SQLiteStore) loadDetails(ctx context.Context, scope, arg string, byID map[string]*models.Receipt) error {
	itemRows, err := s.db.QueryContext(ctx,
		"SELECT receipt_id, id, name, unit_price, quantity, category FROM items WHERE "+scope+
			" ORDER BY receipt_id, position",
		arg,
	)
	if err != nil {
		return fmt.Errorf("failed to get items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var receiptID string
		var item models.Item
		if err := itemRows.Scan(&receiptID, &item.ID, &item.Name, &item.UnitPrice, &item.Quantity, &item.Category); err != nil {
			return fmt.Errorf("failed to scan item: %w", err)
		}
		if r, ok := byID[receiptID]; ok {
			r.Items = append(r.Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate items: %w", err)
	}

	assignRows, err := s.db.QueryContext(ctx,
		"SELECT receipt_id, item_id, kind, target_member_id FROM assignments WHERE "+scope,
		arg,
	)
	if err != nil {
		return fmt.Errorf("failed to get assignments: %w", err)
	}
	defer assignRows.Close()

	for assignRows.Next() {
		var receiptID, itemID, kind string
		var target sql.NullString
		if err := assignRows.Scan(&receiptID, &itemID, &kind, &target); err != nil {
			return fmt.Errorf("failed to scan assignment: %w", err)
		}
		if r, ok := byID[receiptID]; ok {
			r.Assignments[itemID] = models.Assignment{
				Kind:           models.AssignmentKind(kind),
				TargetMemberID: target.String,
			}
		}
	}
	if err := assignRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate assignments: %w", err)
	}

	shareRows, err := s.db.QueryContext(ctx,
		"SELECT receipt_id, item_id, member_id, amount FROM assignment_shares WHERE "+scope+
			" ORDER BY receipt_id, item_id, position",
		arg,
	)
	if err != nil {
		return fmt.Errorf("failed to get assignment shares: %w", err)
	}
	defer shareRows.Close()

	for shareRows.Next() {
		var receiptID, itemID string
		var share models.Share
		if err := shareRows.Scan(&receiptID, &itemID, &share.MemberID, &share.Amount); err != nil {
			return fmt.Errorf("failed to scan assignment share: %w", err)
		}
		r, ok := byID[receiptID]
		if !ok {
			continue
		}
		a := r.Assignments[itemID]
		a.Shares = append(a.Shares, share)
		r.Assignments[itemID] = a
	}
	if err := shareRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate assignment shares: %w", err)
	}
	return nil
}

// ReplaceItems swaps a receipt's items and drops assignments of removed items.
func (s *SQLiteStore) ReplaceItems(ctx context.Context, receiptID string, items []models.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := receiptExists(ctx, tx, receiptID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE receipt_id = ?", receiptID); err != nil {
		return fmt.Errorf("failed to delete items: %w", err)
	}
	if err := insertItems(ctx, tx, receiptID, items); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM assignments WHERE receipt_id = ?
		 AND item_id NOT IN (SELECT id FROM items WHERE receipt_id = ?)`,
		receiptID, receiptID,
	)
	if err != nil {
		return fmt.Errorf("failed to prune assignments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func receiptExists(ctx context.Context, tx *sql.Tx, receiptID string) error {
	var exists int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM receipts WHERE id = ?", receiptID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("receipt", receiptID)
	}
	if err != nil {
		return fmt.Errorf("failed to check receipt existence: %w", err)
	}
	return nil
}

// SetAssignment replaces the assignment of one item.
func (s *SQLiteStore) SetAssignment(ctx context.Context, receiptID, itemID string, assignment models.Assignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := receiptExists(ctx, tx, receiptID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM assignments WHERE receipt_id = ? AND item_id = ?", receiptID, itemID,
	); err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	if err := insertAssignment(ctx, tx, receiptID, itemID, assignment); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ClearAssignment removes an item's assignment. Clearing an unassigned item is a no-op.
func (s *SQLiteStore) ClearAssignment(ctx context.Context, receiptID, itemID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := receiptExists(ctx, tx, receiptID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM assignments WHERE receipt_id = ? AND item_id = ?", receiptID, itemID,
	); err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	return tx.Commit()
}

// SetReceiptStatus updates the settlement status of a receipt.
func (s *SQLiteStore) SetReceiptStatus(ctx context.Context, receiptID string, status models.ReceiptStatus) error {
	res, err := s.db.ExecContext(ctx, "UPDATE receipts SET status = ? WHERE id = ?", string(status), receiptID)
	if err != nil {
		return fmt.Errorf("failed to update receipt status: %w", err)
	}
	return expectRow(res, "receipt", receiptID)
}

// DeleteReceipt removes a receipt with its items and assignments.
func (s *SQLiteStore) DeleteReceipt(ctx context.Context, receiptID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM receipts WHERE id = ?", receiptID)
	if err != nil {
		return fmt.Errorf("failed to delete receipt: %w", err)
	}
	return expectRow(res, "receipt", receiptID)
}
