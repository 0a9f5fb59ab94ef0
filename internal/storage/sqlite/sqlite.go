// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/davidrmellors/receipt-splitter/internal/models"
	"github.com/davidrmellors/receipt-splitter/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas are applied per connection by the driver.
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", storage.ErrNotFound, kind, id)
}

// expectRow turns a zero-row update or delete into ErrNotFound.
func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateGroup persists a new group and its creator as the first member.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *models.Group, creator *models.Member) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.CreatedAt == 0 {
		group.CreatedAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO groups (id, name, description, created_by, created_at) VALUES (?, ?, ?, ?, ?)",
		group.ID, group.Name, group.Description, group.CreatedBy, group.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}

	if creator != nil {
		creator.GroupID = group.ID
		if creator.JoinedAt == 0 {
			creator.JoinedAt = group.CreatedAt
		}
		if err := insertMember(ctx, tx, creator); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by ID.
func (s *SQLiteStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group := &models.Group{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, created_by, created_at FROM groups WHERE id = ?",
		groupID,
	).Scan(&group.ID, &group.Name, &group.Description, &group.CreatedBy, &group.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("group", groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return group, nil
}

// ListGroupsForUser returns the groups a user belongs to, newest first.
func (s *SQLiteStore) ListGroupsForUser(ctx context.Context, userID string) ([]*models.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.id, g.name, g.description, g.created_by, g.created_at
		 FROM groups g JOIN members m ON m.group_id = g.id
		 WHERE m.user_id = ?
		 ORDER BY g.created_at DESC, g.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		g := &models.Group{}
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedBy, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}
	return groups, nil
}

// DeleteGroup removes a group. Members, receipts and payments cascade.
func (s *SQLiteStore) DeleteGroup(ctx context.Context, groupID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", groupID)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return expectRow(res, "group", groupID)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMember(ctx context.Context, db execer, member *models.Member) error {
	if member.ID == "" {
		member.ID = uuid.New().String()
	}
	if member.JoinedAt == 0 {
		member.JoinedAt = time.Now().Unix()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO members (id, group_id, user_id, display_name, is_payer, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		member.ID, member.GroupID, nullString(member.UserID), member.DisplayName, member.IsPayer, member.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

// AddMember adds a member to an existing group.
func (s *SQLiteStore) AddMember(ctx context.Context, member *models.Member) error {
	if _, err := s.GetGroup(ctx, member.GroupID); err != nil {
		return err
	}
	return insertMember(ctx, s.db, member)
}

const memberColumns = "id, group_id, user_id, display_name, is_payer, joined_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner) (models.Member, error) {
	var m models.Member
	var userID sql.NullString
	if err := row.Scan(&m.ID, &m.GroupID, &userID, &m.DisplayName, &m.IsPayer, &m.JoinedAt); err != nil {
		return models.Member{}, err
	}
	m.UserID = userID.String
	return m, nil
}

// ListMembers returns the roster of a group in join order.
func (s *SQLiteStore) ListMembers(ctx context.Context, groupID string) ([]models.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+memberColumns+" FROM members WHERE group_id = ? ORDER BY joined_at, rowid",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return members, nil
}

// GetMemberByUser finds the member linked to userID within a group.
func (s *SQLiteStore) GetMemberByUser(ctx context.Context, groupID, userID string) (*models.Member, error) {
	m, err := scanMember(s.db.QueryRowContext(ctx,
		"SELECT "+memberColumns+" FROM members WHERE group_id = ? AND user_id = ?",
		groupID, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("member for user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &m, nil
}

// RemoveMember deletes a member from a group.
func (s *SQLiteStore) RemoveMember(ctx context.Context, groupID, memberID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM members WHERE id = ? AND group_id = ?", memberID, groupID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return expectRow(res, "member", memberID)
}

// SetPayer makes memberID the only payer of the group.
func (s *SQLiteStore) SetPayer(ctx context.Context, groupID, memberID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM members WHERE id = ? AND group_id = ?", memberID, groupID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("member", memberID)
	}
	if err != nil {
		return fmt.Errorf("failed to check member existence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE members SET is_payer = (id = ?) WHERE group_id = ?",
		memberID, groupID,
	); err != nil {
		return fmt.Errorf("failed to set payer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
