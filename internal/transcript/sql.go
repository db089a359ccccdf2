package transcript

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/1ureka/consultrelay/internal/config"
)

// chatRow is the persisted form of a ChatMessage. Seq is the append order.
type chatRow struct {
	Seq       uint   `gorm:"primaryKey;autoIncrement"`
	Room      string `gorm:"index;not null"`
	MessageID string `gorm:"uniqueIndex;not null"`
	Sender    string `gorm:"not null"`
	Text      string
	Timestamp string `gorm:"not null"`
}

func (chatRow) TableName() string { return "chat_messages" }

// SQLStore keeps transcripts in SQLite, one row per message. Each Append is a
// single INSERT, so concurrent appends never overwrite each other.
type SQLStore struct {
	db *gorm.DB
}

var _ Store = (*SQLStore)(nil)

// OpenSQLStore opens (or creates) the SQLite database at path and migrates
// the schema.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open transcript database: %w", err)
	}
	return newSQLStore(db)
}

func newSQLStore(db *gorm.DB) (*SQLStore, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open transcript database: %w", err)
	}
	// SQLite allows one writer; a single connection queues appends instead of
	// failing them with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&chatRow{}); err != nil {
		return nil, fmt.Errorf("migrate transcript schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Append implements Store.
func (s *SQLStore) Append(ctx context.Context, room string, msg ChatMessage) error {
	if room == "" {
		return ErrEmptyRoom
	}

	row := chatRow{
		Room:      room,
		MessageID: msg.ID,
		Sender:    string(msg.Sender),
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// Read implements Store.
func (s *SQLStore) Read(ctx context.Context, room string) ([]ChatMessage, error) {
	if room == "" {
		return nil, ErrEmptyRoom
	}

	var rows []chatRow
	if err := s.db.WithContext(ctx).Where("room = ?", room).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}

	msgs := make([]ChatMessage, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, ChatMessage{
			ID:        r.MessageID,
			Sender:    config.Role(r.Sender),
			Text:      r.Text,
			Timestamp: r.Timestamp,
		})
	}
	return msgs, nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
