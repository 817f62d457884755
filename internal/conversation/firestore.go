package conversation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	usersCollection = "users"
	chatsCollection = "chats"
)

// chatDocument is the Firestore layout of a conversation at
// users/{subject}/chats/{conversation}.
type chatDocument struct {
	StartTime time.Time        `firestore:"startTime"`
	Messages  []messageElement `firestore:"messages"`
}

// messageElement is one entry of the messages array. ArrayUnion skips values
// equal to an element already present, so every element carries its own id.
type messageElement struct {
	ID        string    `firestore:"id,omitempty"`
	Role      string    `firestore:"role"`
	Content   string    `firestore:"content"`
	Timestamp time.Time `firestore:"timestamp"`
}

func newMessageElement(role Role, content string, at time.Time) messageElement {
	return messageElement{
		ID:        uuid.NewString(),
		Role:      string(role),
		Content:   content,
		Timestamp: at,
	}
}

// FirestoreStore keeps conversations in Cloud Firestore. Appends use
// ArrayUnion so concurrent writers never lose a turn.
type FirestoreStore struct {
	client *firestore.Client
	now    func() time.Time
}

// NewFirestoreStore wraps an existing Firestore client. The store takes
// ownership of the client and closes it in Close.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OpenFirestore creates a Firestore client for projectID and wraps it.
func OpenFirestore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return NewFirestoreStore(client), nil
}

func (s *FirestoreStore) chats(subjectID string) *firestore.CollectionRef {
	return s.client.Collection(usersCollection).Doc(subjectID).Collection(chatsCollection)
}

func (s *FirestoreStore) GetOrCreateConversation(ctx context.Context, subjectID, conversationID string) (string, error) {
	if subjectID == "" {
		return "", fmt.Errorf("subject id is required")
	}

	if conversationID != "" {
		if _, err := s.load(ctx, subjectID, conversationID); err != nil {
			return "", err
		}
		return conversationID, nil
	}

	ref := s.chats(subjectID).NewDoc()
	if _, err := ref.Create(ctx, chatDocument{StartTime: s.now(), Messages: []messageElement{}}); err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) AppendTurn(ctx context.Context, subjectID, conversationID string, role Role, content string) error {
	if err := validateKeys(subjectID, conversationID); err != nil {
		return err
	}
	if err := validateTurn(role, content); err != nil {
		return err
	}

	msg := newMessageElement(role, content, s.now())
	_, err := s.chats(subjectID).Doc(conversationID).Update(ctx, []firestore.Update{
		{Path: "messages", Value: firestore.ArrayUnion(msg)},
	})
	if status.Code(err) == codes.NotFound {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

func (s *FirestoreStore) ListTurns(ctx context.Context, subjectID, conversationID string) ([]Turn, error) {
	if err := validateKeys(subjectID, conversationID); err != nil {
		return nil, err
	}
	doc, err := s.load(ctx, subjectID, conversationID)
	if err != nil {
		return nil, err
	}
	return doc.turns(), nil
}

func (s *FirestoreStore) load(ctx context.Context, subjectID, conversationID string) (*chatDocument, error) {
	snap, err := s.chats(subjectID).Doc(conversationID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}
	var doc chatDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", conversationID, err)
	}
	return &doc, nil
}

func (s *FirestoreStore) ListConversations(ctx context.Context, subjectID string) ([]Conversation, error) {
	snaps, err := s.chats(subjectID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	convs := make([]Conversation, 0, len(snaps))
	for _, snap := range snaps {
		var doc chatDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode conversation %s: %w", snap.Ref.ID, err)
		}
		convs = append(convs, Conversation{
			ID:        snap.Ref.ID,
			SubjectID: subjectID,
			StartTime: doc.StartTime.UTC(),
			Turns:     doc.turns(),
		})
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].StartTime.Before(convs[j].StartTime) })
	return convs, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (d *chatDocument) turns() []Turn {
	turns := make([]Turn, 0, len(d.Messages))
	for _, m := range d.Messages {
		turns = append(turns, Turn{Role: Role(m.Role), Content: m.Content, Timestamp: m.Timestamp.UTC()})
	}
	return turns
}
