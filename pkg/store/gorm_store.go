package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"truefeedback/pkg/domain"
	"truefeedback/pkg/store/migrations"
)

const migrateLockID int64 = 48151623

const pgUniqueViolation = "23505"

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and applies pending migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(sqlDB *sql.DB) error {
		goose.SetBaseFS(migrations.FS)
		if err := goose.SetDialect("postgres"); err != nil {
			return fmt.Errorf("set goose dialect: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreFromDB wraps an already-open connection without migrating.
func NewGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*sql.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(sqlDB)
}

// CreateAccount inserts a new account; unique constraints decide duplicates.
func (s *GormStore) CreateAccount(ctx context.Context, acct domain.Account) error {
	model := accountToModel(acct)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

func (s *GormStore) GetAccountByID(ctx context.Context, id string) (domain.Account, bool, error) {
	return s.getAccount(ctx, "id = ?", id)
}

func (s *GormStore) GetAccountByUsername(ctx context.Context, username string) (domain.Account, bool, error) {
	return s.getAccount(ctx, "username = ?", username)
}

func (s *GormStore) GetAccountByEmail(ctx context.Context, email string) (domain.Account, bool, error) {
	return s.getAccount(ctx, "email = ?", email)
}

func (s *GormStore) getAccount(ctx context.Context, query string, arg any) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).Where(query, arg).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, err
	}
	return accountFromModel(model), true, nil
}

func (s *GormStore) MarkVerified(ctx context.Context, id string) error {
	return s.updateAccount(ctx, id, map[string]any{"is_verified": true})
}

func (s *GormStore) SetAcceptingMessages(ctx context.Context, id string, accepting bool) error {
	return s.updateAccount(ctx, id, map[string]any{"is_accepting_messages": accepting})
}

func (s *GormStore) updateAccount(ctx context.Context, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&AccountModel{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessageIfAccepting locks the account row so a concurrent toggle
// cannot slip between the gate check and the insert.
func (s *GormStore) AppendMessageIfAccepting(ctx context.Context, username string, msg domain.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acct AccountModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "is_accepting_messages").
			Where("username = ?", username).
			Take(&acct).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if !acct.IsAcceptingMessages {
			return ErrNotAccepting
		}
		model := messageToModel(acct.ID, msg)
		return tx.Create(&model).Error
	})
}

// ListMessages returns newest-first; seq breaks ties in created_at.
func (s *GormStore) ListMessages(ctx context.Context, accountID string) ([]domain.Message, error) {
	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&AccountModel{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}
	var models []MessageModel
	if err := db.Where("account_id = ?", accountID).Order("created_at DESC, seq DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

// DeleteMessage removes one message; a second delete of the same id affects no rows.
func (s *GormStore) DeleteMessage(ctx context.Context, accountID, messageID string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", messageID, accountID).
		Delete(&MessageModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "accounts_username_key":
		return ErrDuplicateUsername
	case "accounts_email_key":
		return ErrDuplicateEmail
	default:
		return err
	}
}

func accountToModel(a domain.Account) AccountModel {
	return AccountModel{
		ID:                  a.ID,
		Username:            a.Username,
		Email:               a.Email,
		PasswordHash:        a.PasswordHash,
		VerifyCode:          a.VerifyCode,
		VerifyCodeExpiry:    a.VerifyCodeExpiry,
		IsVerified:          a.IsVerified,
		IsAcceptingMessages: a.IsAcceptingMessages,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

func accountFromModel(m AccountModel) domain.Account {
	return domain.Account{
		ID:                  m.ID,
		Username:            m.Username,
		Email:               m.Email,
		PasswordHash:        m.PasswordHash,
		VerifyCode:          m.VerifyCode,
		VerifyCodeExpiry:    m.VerifyCodeExpiry.UTC(),
		IsVerified:          m.IsVerified,
		IsAcceptingMessages: m.IsAcceptingMessages,
		CreatedAt:           m.CreatedAt.UTC(),
		UpdatedAt:           m.UpdatedAt.UTC(),
	}
}

func messageToModel(accountID string, msg domain.Message) MessageModel {
	return MessageModel{
		ID:        msg.ID,
		AccountID: accountID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:        m.ID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC(),
	}
}
