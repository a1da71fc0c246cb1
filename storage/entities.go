package storage

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"task-tracker/domain"
)

const (
	edmDateTime = "Edm.DateTime"
	// Table storage keeps 100ns precision.
	tableTimeLayout = "2006-01-02T15:04:05.0000000Z"
)

// entityKeys are the table storage addressing fields.
type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// taskEntity is a task row. PartitionKey is the owner, RowKey the task id.
type taskEntity struct {
	entityKeys
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Priority      string `json:"Priority"`
	Status        string `json:"Status"`
	CreatedAt     string `json:"CreatedAt"`
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt     string `json:"UpdatedAt,omitempty"`
	UpdatedAtType string `json:"UpdatedAt@odata.type,omitempty"`
}

// userEntity is a user row keyed by the encoded email address.
type userEntity struct {
	entityKeys
	ID            string `json:"ID"`
	Email         string `json:"Email"`
	PasswordHash  string `json:"PasswordHash"`
	CreatedAt     string `json:"CreatedAt"`
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
}

func formatTableTime(t time.Time) string {
	return t.UTC().Truncate(100 * time.Nanosecond).Format(tableTimeLayout)
}

func parseTableTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func encodeTask(t domain.Task) ([]byte, error) {
	return sonic.Marshal(taskEntity{
		entityKeys:    entityKeys{PartitionKey: t.OwnerID, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		Priority:      string(t.Priority),
		Status:        string(t.Status()),
		CreatedAt:     formatTableTime(t.CreatedAt),
		CreatedAtType: edmDateTime,
		UpdatedAt:     formatTableTime(t.UpdatedAt),
		UpdatedAtType: edmDateTime,
	})
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	completed, err := domain.ParseStatus(ent.Status)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", ent.RowKey, err)
	}
	createdAt, err := parseTableTime(ent.CreatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	// Rows written before UpdatedAt existed were never modified since.
	updatedAt := createdAt
	if ent.UpdatedAt != "" {
		if updatedAt, err = parseTableTime(ent.UpdatedAt); err != nil {
			return domain.Task{}, err
		}
	}
	priority := domain.Priority(ent.Priority)
	if !priority.Valid() {
		priority = domain.DefaultPriority
	}
	return domain.Task{
		ID:          ent.RowKey,
		OwnerID:     ent.PartitionKey,
		Title:       ent.Title,
		Description: ent.Description,
		Priority:    priority,
		Completed:   completed,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

// userKey maps an email to a key free of the characters table storage
// forbids in PartitionKey and RowKey.
func userKey(email string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(email))
}

func encodeUser(u domain.User) ([]byte, error) {
	key := userKey(u.Email)
	return sonic.Marshal(userEntity{
		entityKeys:    entityKeys{PartitionKey: key, RowKey: key},
		ID:            u.ID,
		Email:         u.Email,
		PasswordHash:  u.PasswordHash,
		CreatedAt:     formatTableTime(u.CreatedAt),
		CreatedAtType: edmDateTime,
	})
}

func decodeUser(data []byte) (domain.User, error) {
	var ent userEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.User{}, err
	}
	createdAt, err := parseTableTime(ent.CreatedAt)
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{
		ID:           ent.ID,
		Email:        ent.Email,
		PasswordHash: ent.PasswordHash,
		CreatedAt:    createdAt,
	}, nil
}

// quoteFilter escapes a value for an OData filter string literal.
func quoteFilter(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
