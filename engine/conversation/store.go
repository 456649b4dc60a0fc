package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	contractx "github.com/ajudei/concierge/engine/contract"
)

type customerRow struct {
	bun.BaseModel `bun:"table:customers,alias:cu"`

	ID         int64  `bun:"id,pk"`
	TenantID   int64  `bun:"tenant_id"`
	UUID       string `bun:"uuid"`
	ChatHandle string `bun:"chat_handle"`
}

type conversationRow struct {
	bun.BaseModel `bun:"table:conversations,alias:cv"`

	ID                 int64     `bun:"id,pk,autoincrement"`
	TenantID           int64     `bun:"tenant_id"`
	CustomerID         int64     `bun:"customer_id"`
	Handle             string    `bun:"handle"`
	LastResponseHandle string    `bun:"last_response_handle"`
	PendingCallID      string    `bun:"pending_call_id"`
	PendingToolName    string    `bun:"pending_tool_name"`
	CreatedAt          time.Time `bun:"created_at,nullzero,default:now()"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero,default:now()"`

	Customer *customerRow `bun:"rel:belongs-to,join:customer_id=id"`
}

type messageRow struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID             int64     `bun:"id,pk,autoincrement"`
	ConversationID int64     `bun:"conversation_id"`
	Role           string    `bun:"role"`
	Content        string    `bun:"content"`
	ToolCallID     string    `bun:"tool_call_id"`
	ToolName       string    `bun:"tool_name"`
	CreatedAt      time.Time `bun:"created_at,nullzero,default:now()"`
}

// PgStore persists conversations in Postgres. Message rows are append-only;
// conversation rows are mutated only for handles and the pending invocation.
type PgStore struct {
	db *bun.DB
}

var _ Store = (*PgStore)(nil)

func NewPgStore(db *bun.DB) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Resolve(ctx context.Context, ref Ref) (*Conversation, error) {
	if ref.ConversationID > 0 {
		return s.byID(ctx, ref.ConversationID)
	}
	if strings.TrimSpace(ref.ChatHandle) != "" && ref.TenantID > 0 {
		return s.byChatHandle(ctx, ref.TenantID, ref.ChatHandle)
	}
	return nil, fmt.Errorf("%w: conversation ref needs an id or tenant+chat handle", contractx.ErrValidation)
}

func (s *PgStore) byID(ctx context.Context, id int64) (*Conversation, error) {
	row := new(conversationRow)
	err := s.db.NewSelect().
		Model(row).
		Relation("Customer").
		Where("cv.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id=%d", contractx.ErrConversationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation id=%d: %w", id, err)
	}
	return s.hydrate(ctx, row)
}

func (s *PgStore) byChatHandle(ctx context.Context, tenantID int64, chatHandle string) (*Conversation, error) {
	cust := new(customerRow)
	err := s.db.NewSelect().
		Model(cust).
		Where("cu.tenant_id = ? AND cu.chat_handle = ?", tenantID, chatHandle).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no customer for handle=%s", contractx.ErrConversationNotFound, chatHandle)
	}
	if err != nil {
		return nil, fmt.Errorf("load customer handle=%s: %w", chatHandle, err)
	}

	row := new(conversationRow)
	err = s.db.NewSelect().
		Model(row).
		Where("cv.customer_id = ?", cust.ID).
		Order("cv.id DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		// Concurrent first messages race to create the row; the conflict
		// clause folds the loser onto the winner's conversation.
		row = &conversationRow{TenantID: tenantID, CustomerID: cust.ID}
		if _, err := s.insertConversationQuery(row).Exec(ctx); err != nil {
			return nil, fmt.Errorf("create conversation for customer=%d: %w", cust.ID, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load conversation for customer=%d: %w", cust.ID, err)
	}

	row.Customer = cust
	return s.hydrate(ctx, row)
}

// insertConversationQuery relies on the unique (tenant_id, customer_id)
// index on conversations; RETURNING hands back the surviving row either way.
func (s *PgStore) insertConversationQuery(row *conversationRow) *bun.InsertQuery {
	return s.db.NewInsert().
		Model(row).
		On("CONFLICT (tenant_id, customer_id) DO UPDATE").
		Set("updated_at = now()").
		Returning("*")
}

func (s *PgStore) hydrate(ctx context.Context, row *conversationRow) (*Conversation, error) {
	var msgs []*messageRow
	if err := s.db.NewSelect().
		Model(&msgs).
		Where("m.conversation_id = ?", row.ID).
		Order("m.id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("load messages for conversation=%d: %w", row.ID, err)
	}

	conv := &Conversation{
		ID:                 row.ID,
		TenantID:           row.TenantID,
		Handle:             row.Handle,
		LastResponseHandle: row.LastResponseHandle,
		PendingCallID:      row.PendingCallID,
		PendingToolName:    row.PendingToolName,
	}
	if row.Customer != nil {
		conv.Customer = Customer{
			ID:         row.Customer.ID,
			TenantID:   row.Customer.TenantID,
			UUID:       row.Customer.UUID,
			ChatHandle: row.Customer.ChatHandle,
		}
	}
	for _, m := range msgs {
		conv.Messages = append(conv.Messages, contractx.Message{
			Role:       contractx.Role(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
			CreatedAt:  m.CreatedAt,
		})
	}
	return conv, nil
}

func (s *PgStore) Append(ctx context.Context, conversationID int64, msgs ...contractx.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]*messageRow, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, &messageRow{
			ConversationID: conversationID,
			Role:           string(m.Role),
			Content:        m.Content,
			ToolCallID:     m.ToolCallID,
			ToolName:       m.ToolName,
		})
	}
	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("append %d messages to conversation=%d: %w", len(msgs), conversationID, err)
	}
	return nil
}

func (s *PgStore) UpdateHandles(ctx context.Context, conversationID int64, expectLastResponse, handle, lastResponse string) error {
	res, err := s.db.NewUpdate().
		Model((*conversationRow)(nil)).
		Set("handle = ?", handle).
		Set("last_response_handle = ?", lastResponse).
		Set("updated_at = now()").
		Where("cv.id = ?", conversationID).
		Where("cv.last_response_handle = ?", expectLastResponse).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update handles for conversation=%d: %w", conversationID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update handles for conversation=%d: %w", conversationID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: conversation=%d", ErrHandleConflict, conversationID)
	}
	return nil
}

func (s *PgStore) SetPending(ctx context.Context, conversationID int64, callID, toolName string) error {
	_, err := s.db.NewUpdate().
		Model((*conversationRow)(nil)).
		Set("pending_call_id = ?", callID).
		Set("pending_tool_name = ?", toolName).
		Set("updated_at = now()").
		Where("cv.id = ?", conversationID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set pending call for conversation=%d: %w", conversationID, err)
	}
	return nil
}

func (s *PgStore) ClearPending(ctx context.Context, conversationID int64, callID string) error {
	_, err := s.db.NewUpdate().
		Model((*conversationRow)(nil)).
		Set("pending_call_id = ''").
		Set("pending_tool_name = ''").
		Set("updated_at = now()").
		Where("cv.id = ?", conversationID).
		Where("cv.pending_call_id = ?", callID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("clear pending call for conversation=%d: %w", conversationID, err)
	}
	return nil
}
