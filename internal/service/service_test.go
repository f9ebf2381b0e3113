package service

import (
	"context"
	"errors"
	"sentinel-chat-go/internal/model"
	"sentinel-chat-go/internal/queue"
	"sentinel-chat-go/pkg/encryption"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChats struct {
	owner map[string]string
	err   error
}

func (f *fakeChats) OwnedBy(_ context.Context, chatID, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.owner[chatID] == userID, nil
}

type fakeMessages struct {
	mu   sync.Mutex
	msgs []model.Message
	err  error
}

func (f *fakeMessages) Append(_ context.Context, msg *model.Message) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, *msg)
	return nil
}

func (f *fakeMessages) Recent(_ context.Context, chatID string, limit int) ([]model.Message, error) {
	return nil, nil
}

type fakeUsage struct {
	total map[string]int
	err   error
}

func (f *fakeUsage) Record(_ context.Context, userID string, tokens int) error {
	if f.err != nil {
		return f.err
	}
	f.total[userID] += tokens
	return nil
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

type serviceHarness struct {
	svc      *chatService
	queue    *queue.Queue
	messages *fakeMessages
	cipher   *encryption.Cipher
	now      time.Time
}

func newHarness(t *testing.T, admission *Admission) *serviceHarness {
	t.Helper()
	_, rdb := newRedis(t)
	c, err := encryption.NewCipher("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	h := &serviceHarness{
		queue:    queue.New(rdb, queue.Options{Prefix: "test"}),
		messages: &fakeMessages{},
		cipher:   c,
		now:      time.Unix(1_700_000_000, 0),
	}
	chats := &fakeChats{owner: map[string]string{"chat-1": "user-1"}}
	h.svc = NewChatService(h.queue, chats, h.messages, admission, c, time.Second).(*chatService)
	h.svc.now = func() time.Time { return h.now }
	return h
}

func TestIdempotencyKey(t *testing.T) {
	at := time.Unix(1_700_000_005, 0)
	assert.Equal(t, "c-u-1700000005", IdempotencyKey("c", "u", at, time.Second))
	assert.Equal(t, "c-u-170000000", IdempotencyKey("c", "u", at, 10*time.Second))
	assert.Equal(t, "c-u-1700000005", IdempotencyKey("c", "u", at, 0))
}

func TestSubmit_PersistsEncryptedUserMessageAndEnqueues(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	id, err := h.svc.Submit(ctx, SubmitRequest{ChatID: "chat-1", UserID: "user-1", Message: "hello", RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, "chat-1-user-1-1700000000", id)

	require.Len(t, h.messages.msgs, 1)
	stored := h.messages.msgs[0]
	assert.Equal(t, model.RoleUser, stored.Role)
	assert.True(t, stored.Encrypted)
	assert.NotEqual(t, "hello", stored.Content)
	plain, err := h.cipher.Decrypt(stored.Content)
	require.NoError(t, err)
	assert.Equal(t, "hello", plain)

	job, err := h.queue.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobQueued, job.State)
	assert.Equal(t, "req-1", job.RequestID)
	assert.NotEqual(t, "hello", job.Message)
}

func TestSubmit_DuplicateWithinWindowReturnsSameJob(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.svc.Submit(ctx, SubmitRequest{ChatID: "chat-1", UserID: "user-1", Message: "hello"})
	require.NoError(t, err)
	h.now = h.now.Add(300 * time.Millisecond)
	second, err := h.svc.Submit(ctx, SubmitRequest{ChatID: "chat-1", UserID: "user-1", Message: "hello"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, h.messages.msgs, 1)

	h.now = h.now.Add(time.Second)
	third, err := h.svc.Submit(ctx, SubmitRequest{ChatID: "chat-1", UserID: "user-1", Message: "again"})
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Len(t, h.messages.msgs, 2)
}

func TestSubmit_RejectsForeignChat(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.Submit(context.Background(), SubmitRequest{ChatID: "chat-1", UserID: "intruder", Message: "hi"})
	assert.ErrorIs(t, err, ErrChatNotFound)
	assert.Empty(t, h.messages.msgs)
}

func TestSubmit_PersistFailureDoesNotEnqueue(t *testing.T) {
	h := newHarness(t, nil)
	h.messages.err = errors.New("db down")
	_, err := h.svc.Submit(context.Background(), SubmitRequest{ChatID: "chat-1", UserID: "user-1", Message: "hi"})
	require.Error(t, err)

	_, err = h.queue.Get(context.Background(), "chat-1-user-1-1700000000")
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestPoll_StateMapping(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.Poll(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	id, err := h.svc.Submit(ctx, SubmitRequest{ChatID: "chat-1", UserID: "user-1", Message: "hi"})
	require.NoError(t, err)

	res, err := h.svc.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, PollQueued, res.State)
	assert.Equal(t, "user-1", res.UserID)
	assert.False(t, res.Terminal())

	lease, err := h.queue.TryDequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)
	res, err = h.svc.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, PollActive, res.State)

	sealed, err := h.cipher.Encrypt("the answer")
	require.NoError(t, err)
	require.NoError(t, h.queue.Ack(ctx, lease, sealed))

	res, err = h.svc.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, PollCompleted, res.State)
	assert.Equal(t, "the answer", res.Result)
	assert.True(t, res.Terminal())
}

func TestPoll_RetryWaitIsQueuedAndDeadIsGenericFailure(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	id, err := h.svc.Submit(ctx, SubmitRequest{ChatID: "chat-1", UserID: "user-1", Message: "hi"})
	require.NoError(t, err)

	lease, err := h.queue.TryDequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)
	_, err = h.queue.Nack(ctx, lease, errors.New("upstream 503 at http://internal"), true)
	require.NoError(t, err)

	res, err := h.svc.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, PollQueued, res.State)
	assert.Empty(t, res.Error)

	h2 := newHarness(t, nil)
	id2, err := h2.svc.Submit(ctx, SubmitRequest{ChatID: "chat-1", UserID: "user-1", Message: "hi"})
	require.NoError(t, err)
	lease2, err := h2.queue.TryDequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease2)
	_, err = h2.queue.Nack(ctx, lease2, errors.New("secret stack trace"), false)
	require.NoError(t, err)

	res, err = h2.svc.Poll(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, PollFailed, res.State)
	assert.Equal(t, FailedJobMessage, res.Error)
	assert.NotContains(t, res.Error, "secret")
}

func TestAdmission_RateLimitWindow(t *testing.T) {
	mr, rdb := newRedis(t)
	a := NewAdmission(rdb, 2, time.Minute, 0)
	ctx := context.Background()

	require.NoError(t, a.Allow(ctx, "u"))
	require.NoError(t, a.Allow(ctx, "u"))
	assert.ErrorIs(t, a.Allow(ctx, "u"), ErrRateLimited)
	require.NoError(t, a.Allow(ctx, "other"))

	mr.FastForward(61 * time.Second)
	assert.NoError(t, a.Allow(ctx, "u"))
}

func TestAdmission_QuotaAndMetering(t *testing.T) {
	mr, rdb := newRedis(t)
	a := NewAdmission(rdb, 0, time.Minute, 100)
	a.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	require.NoError(t, a.CheckQuota(ctx, "u"))

	usage := &fakeUsage{total: map[string]int{}}
	m := NewMetering(usage, a)
	require.NoError(t, m.Record(ctx, "u", 60))
	require.NoError(t, a.CheckQuota(ctx, "u"))
	require.NoError(t, m.Record(ctx, "u", 40))
	assert.ErrorIs(t, a.CheckQuota(ctx, "u"), ErrQuotaExceeded)
	assert.Equal(t, 100, usage.total["u"])

	key := "quota:tokens:u:20240301"
	assert.True(t, mr.TTL(key) > 0)

	a.now = func() time.Time { return time.Date(2024, 3, 2, 0, 0, 1, 0, time.UTC) }
	assert.NoError(t, a.CheckQuota(ctx, "u"))
}

func TestSubmit_AdmissionErrors(t *testing.T) {
	_, rdb := newRedis(t)
	a := NewAdmission(rdb, 1, time.Minute, 0)
	h := newHarness(t, a)
	ctx := context.Background()

	_, err := h.svc.Submit(ctx, SubmitRequest{ChatID: "chat-1", UserID: "user-1", Message: "hi"})
	require.NoError(t, err)
	_, err = h.svc.Submit(ctx, SubmitRequest{ChatID: "chat-1", UserID: "user-1", Message: "hi"})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestMetering_UsageFailureIsReported(t *testing.T) {
	m := NewMetering(&fakeUsage{total: map[string]int{}, err: errors.New("db down")}, nil)
	assert.Error(t, m.Record(context.Background(), "u", 5))
}
