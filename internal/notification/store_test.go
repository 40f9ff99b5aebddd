package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"brokerage-client/internal/apperr"
	"brokerage-client/internal/backend"
	"brokerage-client/internal/dto"
	"brokerage-client/internal/entity"
	"brokerage-client/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func note(userId uuid.UUID, title string, age time.Duration) entity.Notification {
	return entity.Notification{
		Id:        uuid.New(),
		UserId:    userId,
		Title:     title,
		Message:   title + " body",
		Type:      entity.NotificationTypePropertyUpdate,
		Priority:  entity.PriorityMedium,
		CreatedAt: base.Add(-age),
	}
}

func titles(items []entity.Notification) []string {
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.Title
	}
	return out
}

type fixture struct {
	userId   uuid.UUID
	tables   *fakeTables
	realtime *fakeRealtime
	changes  *changeLog
	store    *Store
}

func newFixture(t *testing.T, titlesNewestFirst ...string) *fixture {
	t.Helper()
	userId := uuid.New()
	var rows []entity.Notification
	for i, title := range titlesNewestFirst {
		rows = append(rows, note(userId, title, time.Duration(i+1)*time.Minute))
	}
	f := &fixture{
		userId:   userId,
		tables:   newFakeTables(rows...),
		realtime: &fakeRealtime{},
		changes:  &changeLog{},
	}
	f.store = NewStore(f.tables, f.realtime, nil, f.changes, logger.NewNop(), Options{PageSize: 50})
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.Start(context.Background(), f.userId))
}

func (f *fixture) byTitle(title string) entity.Notification {
	for _, n := range f.store.Notifications() {
		if n.Title == title {
			return n
		}
	}
	panic("no notification " + title)
}

func TestScenarioSnapshotReadLiveUpdateAndInsert(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	f.start(t)
	ctx := context.Background()

	assert.Equal(t, []string{"A", "B", "C"}, titles(f.store.Notifications()))
	assert.Equal(t, 3, f.store.UnreadCount())

	require.NoError(t, f.store.MarkAsRead(ctx, f.byTitle("B").Id))
	assert.Equal(t, 2, f.store.UnreadCount())
	assert.True(t, f.byTitle("B").IsRead)
	assert.False(t, f.byTitle("A").IsRead)
	assert.False(t, f.byTitle("C").IsRead)

	a := f.byTitle("A")
	a.IsRead = true
	f.realtime.emit(backend.ChangeUpdate, a)
	assert.Equal(t, 1, f.store.UnreadCount())

	d := note(f.userId, "D", 0)
	f.realtime.emit(backend.ChangeInsert, d)
	assert.Equal(t, []string{"D", "A", "B", "C"}, titles(f.store.Notifications()))
	assert.Equal(t, 2, f.store.UnreadCount())

	assert.EqualValues(t, 2, f.changes.last().Data["unread_count"])
	assert.Equal(t, "inserted", f.changes.last().Data["action"])
}

func TestStartOpensTwoFilteredFeeds(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	open := f.realtime.open()
	require.Len(t, open, 2)
	assert.Equal(t, backend.ChangeInsert, open[0].spec.Event)
	assert.Equal(t, backend.ChangeUpdate, open[1].spec.Event)
	for _, ch := range open {
		assert.Equal(t, backend.TableNotifications, ch.spec.Table)
		assert.Equal(t, "user_id=eq."+f.userId.String(), ch.spec.Filter)
	}
	assert.True(t, f.store.Live())

	settings, ok := f.store.Settings()
	require.True(t, ok)
	assert.Equal(t, entity.DefaultNotificationSettings(f.userId), settings)
}

func TestStopReleasesFeedsAndClearsState(t *testing.T) {
	f := newFixture(t, "A")
	f.start(t)

	f.store.Stop()
	assert.Empty(t, f.realtime.open())
	assert.Empty(t, f.store.Notifications())
	_, ok := f.store.Settings()
	assert.False(t, ok)
	assert.False(t, f.store.Started())

	// A late event from the old session is ignored.
	f.realtime.mu.Lock()
	stale := f.realtime.channels[0]
	f.realtime.mu.Unlock()
	raw := `{"id":"` + uuid.NewString() + `","user_id":"` + f.userId.String() + `"}`
	stale.handler(backend.Change{Type: backend.ChangeInsert, Record: []byte(raw)})
	assert.Empty(t, f.store.Notifications())

	f.store.Stop()
}

func TestRestartDoesNotDuplicateDelivery(t *testing.T) {
	f := newFixture(t, "A")
	f.start(t)
	f.start(t)

	assert.Len(t, f.realtime.open(), 2)
	f.realtime.emit(backend.ChangeInsert, note(f.userId, "B", 0))
	assert.Equal(t, []string{"B", "A"}, titles(f.store.Notifications()))
}

func TestStartFailureReleasesFirstFeed(t *testing.T) {
	f := newFixture(t)
	f.realtime.failOn = backend.ChangeUpdate
	f.realtime.err = apperr.New(apperr.KindFetch, "subscribe", "join rejected")

	err := f.store.Start(context.Background(), f.userId)
	assert.True(t, apperr.Is(err, apperr.KindFetch))
	assert.Empty(t, f.realtime.open())
	assert.False(t, f.store.Started())
}

func TestStartFailsWhenSnapshotFails(t *testing.T) {
	f := newFixture(t, "A")
	f.tables.fail("Select notifications", apperr.FromStatus("select notifications", 500, "", ""))

	err := f.store.Start(context.Background(), f.userId)
	assert.True(t, apperr.Is(err, apperr.KindServer))
	assert.Empty(t, f.realtime.open())
}

func TestSavedSettingsAreLoaded(t *testing.T) {
	f := newFixture(t)
	saved := entity.DefaultNotificationSettings(f.userId)
	saved.SMSEnabled = false
	saved.Types[entity.NotificationTypeSystemAlert] = false
	f.tables.settings[f.userId] = saved
	f.start(t)

	got, ok := f.store.Settings()
	require.True(t, ok)
	assert.False(t, got.SMSEnabled)
	assert.False(t, got.Allows(entity.NotificationTypeSystemAlert, entity.ChannelPush))
}

func TestInsertWithKnownIdReplacesInPlace(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.start(t)

	b := f.byTitle("B")
	b.Message = "edited"
	f.realtime.emit(backend.ChangeInsert, b)

	assert.Equal(t, []string{"A", "B"}, titles(f.store.Notifications()))
	assert.Equal(t, "edited", f.byTitle("B").Message)
}

func TestUpdateWithoutLocalMatchIsUpserted(t *testing.T) {
	f := newFixture(t, "A", "C")
	f.start(t)

	b := note(f.userId, "B", 90*time.Second)
	b.IsRead = true
	f.realtime.emit(backend.ChangeUpdate, b)

	assert.Equal(t, []string{"A", "B", "C"}, titles(f.store.Notifications()))
	assert.Equal(t, 2, f.store.UnreadCount())
}

func TestChangesForOtherUsersAreIgnored(t *testing.T) {
	f := newFixture(t, "A")
	f.start(t)

	f.realtime.emit(backend.ChangeInsert, note(uuid.New(), "X", 0))
	assert.Equal(t, []string{"A"}, titles(f.store.Notifications()))
}

func TestChangesDuringSnapshotAreReplayed(t *testing.T) {
	f := newFixture(t, "A")
	late := note(f.userId, "LATE", 0)
	fired := false
	f.tables.beforeSelect = func() {
		if fired {
			return
		}
		fired = true
		f.realtime.emit(backend.ChangeInsert, late)
	}
	f.start(t)

	assert.Equal(t, []string{"LATE", "A"}, titles(f.store.Notifications()))
}

func TestMarkAsReadRollsBackOnRejection(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.start(t)
	f.tables.fail("Update notifications", apperr.FromStatus("update notifications", 500, "", "db down"))

	err := f.store.MarkAsRead(context.Background(), f.byTitle("A").Id)
	assert.True(t, apperr.Is(err, apperr.KindServer))
	assert.False(t, f.byTitle("A").IsRead)
	assert.Equal(t, 2, f.store.UnreadCount())
	assert.Equal(t, "rollback", f.changes.last().Data["action"])
}

func TestMarkAsReadUnknownId(t *testing.T) {
	f := newFixture(t, "A")
	f.start(t)

	err := f.store.MarkAsRead(context.Background(), uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestMarkAllAsReadThenRefreshShowsZeroUnread(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	f.start(t)
	ctx := context.Background()

	require.NoError(t, f.store.MarkAllAsRead(ctx))
	assert.Zero(t, f.store.UnreadCount())

	require.NoError(t, f.store.Refresh(ctx))
	assert.Len(t, f.store.Notifications(), 3)
	assert.Zero(t, f.store.UnreadCount())
}

func TestMarkAllAsReadRollsBackOnlyWhatItFlipped(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	f.start(t)
	ctx := context.Background()
	require.NoError(t, f.store.MarkAsRead(ctx, f.byTitle("B").Id))

	f.tables.fail("Update notifications", errors.New("network"))
	require.Error(t, f.store.MarkAllAsRead(ctx))

	assert.Equal(t, 2, f.store.UnreadCount())
	assert.True(t, f.byTitle("B").IsRead)
}

func TestDeleteRemovesExactlyOne(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	f.start(t)
	ctx := context.Background()

	require.NoError(t, f.store.DeleteNotification(ctx, f.byTitle("B").Id))
	assert.Equal(t, []string{"A", "C"}, titles(f.store.Notifications()))

	calls := len(f.tables.calls)
	require.NoError(t, f.store.DeleteNotification(ctx, uuid.New()))
	assert.Len(t, f.store.Notifications(), 2)
	assert.Len(t, f.tables.calls, calls, "unknown id makes no remote call")
}

func TestDeleteRollbackRestoresPosition(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	f.start(t)
	f.tables.fail("Delete notifications", apperr.FromStatus("delete notifications", 403, "", "forbidden"))

	err := f.store.DeleteNotification(context.Background(), f.byTitle("B").Id)
	require.Error(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, titles(f.store.Notifications()))
}

func TestRefreshReplacesWholeList(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.start(t)
	ctx := context.Background()

	f.tables.mu.Lock()
	f.tables.notifications = f.tables.notifications[:1]
	f.tables.mu.Unlock()

	require.NoError(t, f.store.Refresh(ctx))
	assert.Equal(t, []string{"A"}, titles(f.store.Notifications()))
}

func TestRefreshResubscribesAfterDisconnect(t *testing.T) {
	f := newFixture(t, "A")
	f.start(t)

	f.store.HandleDisconnect(errors.New("socket closed"))
	assert.False(t, f.store.Live())
	for _, ch := range f.realtime.open() {
		ch.closed = true
	}

	require.NoError(t, f.store.Refresh(context.Background()))
	assert.True(t, f.store.Live())
	assert.Len(t, f.realtime.open(), 2)
}

func TestLoadMoreAppendsOlderPages(t *testing.T) {
	userId := uuid.New()
	var rows []entity.Notification
	for i := 0; i < 5; i++ {
		rows = append(rows, note(userId, string(rune('A'+i)), time.Duration(i+1)*time.Minute))
	}
	tables := newFakeTables(rows...)
	store := NewStore(tables, &fakeRealtime{}, nil, nil, logger.NewNop(), Options{PageSize: 2})
	ctx := context.Background()
	require.NoError(t, store.Start(ctx, userId))

	assert.Equal(t, []string{"A", "B"}, titles(store.Notifications()))
	assert.True(t, store.HasMore())

	added, err := store.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	added, err = store.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.False(t, store.HasMore())
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, titles(store.Notifications()))
}

func pagedStore(t *testing.T) (*Store, *fakeTables, *fakeRealtime, []entity.Notification) {
	t.Helper()
	userId := uuid.New()
	var rows []entity.Notification
	for i := 0; i < 5; i++ {
		rows = append(rows, note(userId, string(rune('A'+i)), time.Duration(i+1)*time.Minute))
	}
	tables := newFakeTables(rows...)
	realtime := &fakeRealtime{}
	store := NewStore(tables, realtime, nil, nil, logger.NewNop(), Options{PageSize: 2})
	require.NoError(t, store.Start(context.Background(), userId))
	require.Equal(t, []string{"A", "B"}, titles(store.Notifications()))
	return store, tables, realtime, rows
}

func TestLoadMoreAfterRemoteDeleteSkipsNothing(t *testing.T) {
	store, tables, _, rows := pagedStore(t)
	ctx := context.Background()

	// Another device removes the newest row; nothing tells this store.
	require.NoError(t, tables.Delete(ctx, backend.TableNotifications, []backend.Filter{backend.Eq("id", rows[0].Id)}))

	added, err := store.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"A", "B", "C", "D"}, titles(store.Notifications()))

	added, err = store.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.False(t, store.HasMore())
}

func TestLoadMoreAfterOlderUpsertSkipsNothing(t *testing.T) {
	store, _, realtime, rows := pagedStore(t)
	ctx := context.Background()

	realtime.emit(backend.ChangeUpdate, rows[3])
	require.Equal(t, []string{"A", "B", "D"}, titles(store.Notifications()))

	added, err := store.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"A", "B", "C", "D"}, titles(store.Notifications()))
	assert.True(t, store.HasMore())

	added, err = store.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, titles(store.Notifications()))
	assert.False(t, store.HasMore())
}

func TestAddNotificationDoesNotInsertLocally(t *testing.T) {
	f := newFixture(t, "A")
	f.start(t)
	ctx := context.Background()

	err := f.store.AddNotification(ctx, dto.CreateNotificationRequest{
		UserId:  f.userId,
		Title:   "Offer received",
		Message: "A buyer sent an offer",
		Type:    entity.NotificationTypeCustomerMessage,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, titles(f.store.Notifications()))
	require.Len(t, f.tables.notifications, 2)
	assert.Equal(t, entity.PriorityMedium, f.tables.notifications[1].Priority)

	err = f.store.AddNotification(ctx, dto.CreateNotificationRequest{UserId: f.userId, Title: "x"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestAddNotificationFailureIsCreate(t *testing.T) {
	f := newFixture(t)
	fn := &fakeFunctions{err: apperr.FromStatus("function create-notification", 500, "", "insert failed")}
	store := NewStore(f.tables, f.realtime, fn, nil, logger.NewNop(), Options{CreateFunction: "create-notification"})

	err := store.AddNotification(context.Background(), dto.CreateNotificationRequest{
		UserId:  f.userId,
		Title:   "Signed",
		Message: "Lease signed",
		Type:    entity.NotificationTypeDocumentSigned,
	})
	assert.True(t, apperr.Is(err, apperr.KindCreate))
	assert.Equal(t, "insert failed", apperr.Message(err))
	assert.Equal(t, "create-notification", fn.name)
	assert.Empty(t, f.tables.calls)
}

func TestUpdateSettingsReplacesWholesale(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	off, on := false, true

	saved, err := f.store.UpdateSettings(context.Background(), dto.UpdateNotificationSettingsRequest{
		EmailEnabled: &on,
		SMSEnabled:   &off,
		PushEnabled:  &on,
		Types: func() map[entity.NotificationType]bool {
			types := entity.DefaultNotificationSettings(f.userId).Types
			types[entity.NotificationTypePaymentDue] = false
			return types
		}(),
		QuietHours: dto.QuietHoursRequest{Enabled: true, Start: "21:30", End: "06:00"},
	})
	require.NoError(t, err)
	assert.False(t, saved.SMSEnabled)

	local, ok := f.store.Settings()
	require.True(t, ok)
	assert.False(t, local.Types[entity.NotificationTypePaymentDue])
	assert.True(t, local.Types[entity.NotificationTypeTaskAssigned])
	assert.True(t, local.InQuietHours(time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, f.userId, f.tables.settings[f.userId].UserId)

	_, err = f.store.UpdateSettings(context.Background(), dto.UpdateNotificationSettingsRequest{EmailEnabled: &on})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestFiltered(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	f.start(t)
	require.NoError(t, f.store.MarkAsRead(context.Background(), f.byTitle("A").Id))

	c := f.byTitle("C")
	c.Type = entity.NotificationTypePaymentDue
	c.Priority = entity.PriorityUrgent
	f.realtime.emit(backend.ChangeUpdate, c)

	assert.Equal(t, []string{"B", "C"}, titles(f.store.Filtered(Filter{UnreadOnly: true})))
	assert.Equal(t, []string{"C"}, titles(f.store.Filtered(Filter{Type: entity.NotificationTypePaymentDue})))
	assert.Equal(t, []string{"C"}, titles(f.store.Filtered(Filter{Priority: entity.PriorityUrgent})))
	assert.Len(t, f.store.Filtered(Filter{}), 3)
}

func TestCommandsRequireStartedStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.True(t, apperr.Is(f.store.MarkAllAsRead(ctx), apperr.KindValidation))
	assert.True(t, apperr.Is(f.store.Refresh(ctx), apperr.KindValidation))
	assert.True(t, apperr.Is(f.store.Start(ctx, uuid.Nil), apperr.KindValidation))
}
