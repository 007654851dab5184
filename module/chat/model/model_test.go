package model

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"telechat/data/mongoutil"
	"telechat/module/identity"
	"telechat/service/mgo"
	"telechat/tools/errs"
)

var mongoOnce sync.Once

// setupMongo connects the global manager to a local test database, skipping
// the whole test when no server answers in time.
func setupMongo(t *testing.T) context.Context {
	t.Helper()
	uri := os.Getenv("TELECHAT_TEST_MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	mongoOnce.Do(func() {
		mgo.StartAsync(context.Background(), &mongoutil.Config{
			URI:         uri,
			Database:    "telechat_test",
			MaxPoolSize: 5,
			MaxRetry:    1,
		})
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := mgo.WaitReady(ctx); err != nil {
		t.Skipf("mongo not available at %s: %v", uri, err)
	}
	return context.Background()
}

func dropCollections(t *testing.T, ctx context.Context) {
	t.Helper()
	if err := (&Conversation{}).Collection().Drop(ctx); err != nil {
		t.Fatalf("drop conversations: %v", err)
	}
	if err := (&Message{}).Collection().Drop(ctx); err != nil {
		t.Fatalf("drop messages: %v", err)
	}
}

var (
	refPat = identity.Ref{ID: "pat1", Class: identity.ClassPatient}
	refDoc = identity.Ref{ID: "doc1", Class: identity.ClassPractitioner}
	refOp  = identity.Ref{ID: "op1", Class: identity.ClassOperator}
)

func TestFindOrCreateDedupsByParticipantSet(t *testing.T) {
	ctx := setupMongo(t)
	dropCollections(t, ctx)
	convModel := &Conversation{}

	first, created, err := convModel.FindOrCreate(ctx, []identity.Ref{refPat, refDoc}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatal("first call should create")
	}

	// same set, different order: the unordered set is the dedup key
	second, created, err := convModel.FindOrCreate(ctx, []identity.Ref{refDoc, refPat}, "")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if created {
		t.Fatal("second call must reuse the existing conversation")
	}
	if second.ID != first.ID {
		t.Fatalf("ids differ: %s vs %s", second.ID.Hex(), first.ID.Hex())
	}

	// superset is a different conversation, never a match
	third, created, err := convModel.FindOrCreate(ctx, []identity.Ref{refPat, refDoc, refOp}, "")
	if err != nil {
		t.Fatalf("create superset: %v", err)
	}
	if !created || third.ID == first.ID {
		t.Fatal("superset must create a new conversation")
	}
}

func TestFindOrCreateConcurrentSameSet(t *testing.T) {
	ctx := setupMongo(t)
	dropCollections(t, ctx)
	convModel := &Conversation{}
	// the unique participant_key index is what settles the race
	if err := convModel.EnsureIndexes(ctx); err != nil {
		t.Fatalf("indexes: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	convIDs := make(chan primitive.ObjectID, n)
	createds := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, created, err := (&Conversation{}).FindOrCreate(ctx, []identity.Ref{refPat, refDoc}, "")
			if err != nil {
				t.Errorf("find or create: %v", err)
				return
			}
			convIDs <- conv.ID
			createds <- created
		}()
	}
	wg.Wait()
	close(convIDs)
	close(createds)

	var first primitive.ObjectID
	for id := range convIDs {
		if first.IsZero() {
			first = id
		} else if id != first {
			t.Fatalf("race produced distinct conversations: %s vs %s", first.Hex(), id.Hex())
		}
	}
	creates := 0
	for c := range createds {
		if c {
			creates++
		}
	}
	if creates != 1 {
		t.Fatalf("insert won %d times, want exactly 1", creates)
	}

	if _, total, err := convModel.ListForIdentity(ctx, refPat.ID, 1, 10); err != nil || total != 1 {
		t.Fatalf("want a single conversation, got total=%d err=%v", total, err)
	}
}

func TestArchivedConversationNotMatchedOrListed(t *testing.T) {
	ctx := setupMongo(t)
	dropCollections(t, ctx)
	convModel := &Conversation{}

	conv, _, err := convModel.FindOrCreate(ctx, []identity.Ref{refPat, refDoc}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := convModel.Archive(ctx, conv.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	// archive twice: no-op
	if err := convModel.Archive(ctx, conv.ID); err != nil {
		t.Fatalf("re-archive: %v", err)
	}

	if _, err := convModel.FindForParticipant(ctx, conv.ID, refPat.ID); errs.Code(err) != errs.CodeNotFound {
		t.Fatalf("archived conversation should read as not found, got %v", err)
	}

	convs, total, err := convModel.ListForIdentity(ctx, refPat.ID, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 0 || len(convs) != 0 {
		t.Fatalf("archived conversation leaked into the list: total=%d", total)
	}

	// creating again for the same set starts fresh
	fresh, created, err := convModel.FindOrCreate(ctx, []identity.Ref{refPat, refDoc}, "")
	if err != nil || !created {
		t.Fatalf("recreate after archive: created=%v err=%v", created, err)
	}
	if fresh.ID == conv.ID {
		t.Fatal("recreate must not resurrect the archived document")
	}
}

func TestFindForParticipantHidesFromStrangers(t *testing.T) {
	ctx := setupMongo(t)
	dropCollections(t, ctx)
	convModel := &Conversation{}

	conv, _, err := convModel.FindOrCreate(ctx, []identity.Ref{refPat, refDoc}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := convModel.FindForParticipant(ctx, conv.ID, refPat.ID); err != nil {
		t.Fatalf("participant read: %v", err)
	}
	// a non-participant gets the same answer as for a missing conversation
	if _, err := convModel.FindForParticipant(ctx, conv.ID, refOp.ID); errs.Code(err) != errs.CodeNotFound {
		t.Fatalf("stranger should get not found, got %v", err)
	}
	if _, err := convModel.FindForParticipant(ctx, primitive.NewObjectID(), refPat.ID); errs.Code(err) != errs.CodeNotFound {
		t.Fatalf("missing conversation should get not found, got %v", err)
	}
}

func TestMessageOrderingAcrossPages(t *testing.T) {
	ctx := setupMongo(t)
	dropCollections(t, ctx)
	convModel := &Conversation{}
	msgModel := &Message{}

	conv, _, err := convModel.FindOrCreate(ctx, []identity.Ref{refPat, refDoc}, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	sender := Sender{ID: refPat.ID, Class: refPat.Class, DisplayName: "Pat One"}
	contents := []string{"one", "two", "three", "four", "five"}
	for _, c := range contents {
		if _, err := msgModel.Append(ctx, conv.ID, sender, c, nil); err != nil {
			t.Fatalf("append %q: %v", c, err)
		}
	}

	var all []Message
	for page := int64(1); page <= 3; page++ {
		msgs, total, err := msgModel.ListPage(ctx, conv.ID, page, 2)
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		if total != 5 {
			t.Fatalf("total = %d, want 5", total)
		}
		all = append(all, msgs...)
	}
	if len(all) != 5 {
		t.Fatalf("concatenated pages hold %d messages, want 5", len(all))
	}
	for i := range all {
		if all[i].Content != contents[i] {
			t.Fatalf("position %d = %q, want %q", i, all[i].Content, contents[i])
		}
		if i > 0 && all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Fatalf("created_at not non-decreasing at %d", i)
		}
	}
}

func TestReadReceiptsSeededAndIdempotent(t *testing.T) {
	ctx := setupMongo(t)
	dropCollections(t, ctx)
	convModel := &Conversation{}
	msgModel := &Message{}

	conv, _, err := convModel.FindOrCreate(ctx, []identity.Ref{refPat, refDoc}, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	sender := Sender{ID: refDoc.ID, Class: refDoc.Class, DisplayName: "Dr. One"}
	msg, err := msgModel.Append(ctx, conv.ID, sender, "please book a follow-up", nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(msg.ReadBy) != 1 || msg.ReadBy[0].IdentityID != refDoc.ID {
		t.Fatalf("read_by not seeded with the sender: %+v", msg.ReadBy)
	}

	// unread for the patient, never for the author
	if n, _ := msgModel.UnreadCount(ctx, conv.ID, refPat.ID); n != 1 {
		t.Fatalf("patient unread = %d, want 1", n)
	}
	if n, _ := msgModel.UnreadCount(ctx, conv.ID, refDoc.ID); n != 0 {
		t.Fatalf("author unread = %d, want 0", n)
	}

	updated, err := msgModel.MarkAllRead(ctx, conv.ID, refPat)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if updated != 1 {
		t.Fatalf("updated = %d, want 1", updated)
	}
	// marking again is a no-op: at most one receipt per identity
	updated, err = msgModel.MarkAllRead(ctx, conv.ID, refPat)
	if err != nil {
		t.Fatalf("re-mark read: %v", err)
	}
	if updated != 0 {
		t.Fatalf("re-mark updated = %d, want 0", updated)
	}

	msgs, _, err := msgModel.ListPage(ctx, conv.ID, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs[0].ReadBy) != 2 {
		t.Fatalf("read_by holds %d receipts, want 2: %+v", len(msgs[0].ReadBy), msgs[0].ReadBy)
	}
	if n, _ := msgModel.UnreadCount(ctx, conv.ID, refPat.ID); n != 0 {
		t.Fatalf("unread after read = %d, want 0", n)
	}
}

func TestLastMessagePreviewAndListOrder(t *testing.T) {
	ctx := setupMongo(t)
	dropCollections(t, ctx)
	convModel := &Conversation{}
	msgModel := &Message{}

	older, _, err := convModel.FindOrCreate(ctx, []identity.Ref{refPat, refDoc}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	newer, _, err := convModel.FindOrCreate(ctx, []identity.Ref{refPat, refOp}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sender := Sender{ID: refPat.ID, Class: refPat.Class, DisplayName: "Pat One"}
	msg, err := msgModel.Append(ctx, newer.ID, sender, "latest activity here", nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := convModel.TouchLastMessage(ctx, newer.ID, &LastMessage{
		Content:     msg.Content,
		SenderID:    sender.ID,
		SenderName:  sender.DisplayName,
		SenderClass: sender.Class,
		Timestamp:   msg.CreatedAt,
	}); err != nil {
		t.Fatalf("touch: %v", err)
	}

	convs, total, err := convModel.ListForIdentity(ctx, refPat.ID, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	if convs[0].ID != newer.ID || convs[1].ID != older.ID {
		t.Fatal("list not ordered by most recent update")
	}
	lm := convs[0].LastMessage
	if lm == nil || lm.Content != "latest activity here" || lm.SenderID != refPat.ID {
		t.Fatalf("preview not updated: %+v", lm)
	}
	if convs[1].LastMessage != nil {
		t.Fatal("untouched conversation should have no preview")
	}
}
