package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tickchat/internal/models"
)

func newMessage(sender, receiver models.UserID, body string) *models.Message {
	return &models.Message{
		SenderID:   sender,
		ReceiverID: receiver,
		Body:       body,
		Status:     models.StatusSent,
		CreatedAt:  time.Now().UTC(),
	}
}

func insert(t *testing.T, repo MessageRepository, sender, receiver models.UserID, body string) int64 {
	t.Helper()
	id, err := repo.Insert(context.Background(), newMessage(sender, receiver, body))
	require.NoError(t, err)
	require.Positive(t, id)
	return id
}

// runMessageRepositoryContract checks the behaviour every message store
// must share. repo must be empty and migrated.
func runMessageRepositoryContract(t *testing.T, repo MessageRepository) {
	ctx := context.Background()
	sent := []models.MessageStatus{models.StatusSent}
	unread := []models.MessageStatus{models.StatusSent, models.StatusDelivered}

	t.Run("InsertAndGet", func(t *testing.T) {
		msg := newMessage(10, 20, "hello")
		msg.Attachment = "files/cat.png"
		id, err := repo.Insert(ctx, msg)
		require.NoError(t, err)

		got, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, id, got.ID)
		require.Equal(t, models.UserID(10), got.SenderID)
		require.Equal(t, models.UserID(20), got.ReceiverID)
		require.Equal(t, "hello", got.Body)
		require.Equal(t, "files/cat.png", got.Attachment)
		require.Equal(t, models.StatusSent, got.Status)
		require.WithinDuration(t, msg.CreatedAt, got.CreatedAt, time.Millisecond)
		require.Nil(t, got.DeliveredAt)
		require.Nil(t, got.ReadAt)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.GetByID(ctx, 999999)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("IDsAreNotReused", func(t *testing.T) {
		first := insert(t, repo, 30, 31, "a")
		second := insert(t, repo, 30, 31, "b")
		require.Greater(t, second, first)
	})

	t.Run("MarkDeliveredOnlyOnce", func(t *testing.T) {
		a := insert(t, repo, 40, 41, "one")
		b := insert(t, repo, 42, 41, "two")
		insert(t, repo, 40, 43, "someone else")

		at := time.Now().UTC()
		changes, err := repo.UpdateStatusWhere(ctx, StatusFilter{ReceiverID: 41}, sent, models.StatusDelivered, at)
		require.NoError(t, err)
		require.Equal(t, []int64{a, b}, changes.IDs())
		require.Equal(t, map[models.UserID][]int64{40: {a}, 42: {b}}, changes.BySender())

		again, err := repo.UpdateStatusWhere(ctx, StatusFilter{ReceiverID: 41}, sent, models.StatusDelivered, at)
		require.NoError(t, err)
		require.Empty(t, again)

		got, err := repo.GetByID(ctx, a)
		require.NoError(t, err)
		require.Equal(t, models.StatusDelivered, got.Status)
		require.NotNil(t, got.DeliveredAt)
	})

	t.Run("MarkReadMovesSentAndDelivered", func(t *testing.T) {
		a := insert(t, repo, 50, 51, "delivered first")
		_, err := repo.UpdateStatusWhere(ctx, StatusFilter{ReceiverID: 51}, sent, models.StatusDelivered, time.Now())
		require.NoError(t, err)
		b := insert(t, repo, 50, 51, "still sent")
		other := insert(t, repo, 52, 51, "other sender")

		changes, err := repo.UpdateStatusWhere(ctx, StatusFilter{SenderID: 50, ReceiverID: 51}, unread, models.StatusRead, time.Now())
		require.NoError(t, err)
		require.Equal(t, []int64{a, b}, changes.IDs())

		again, err := repo.UpdateStatusWhere(ctx, StatusFilter{SenderID: 50, ReceiverID: 51}, unread, models.StatusRead, time.Now())
		require.NoError(t, err)
		require.Empty(t, again)

		got, err := repo.GetByID(ctx, other)
		require.NoError(t, err)
		require.Equal(t, models.StatusSent, got.Status)

		read, err := repo.GetByID(ctx, b)
		require.NoError(t, err)
		require.Equal(t, models.StatusRead, read.Status)
		require.NotNil(t, read.ReadAt)
		require.NotNil(t, read.DeliveredAt)
	})

	t.Run("ReadNeverRegresses", func(t *testing.T) {
		id := insert(t, repo, 60, 61, "x")
		_, err := repo.UpdateStatusWhere(ctx, StatusFilter{SenderID: 60, ReceiverID: 61}, unread, models.StatusRead, time.Now())
		require.NoError(t, err)

		changes, err := repo.UpdateStatusWhere(ctx, StatusFilter{ReceiverID: 61}, sent, models.StatusDelivered, time.Now())
		require.NoError(t, err)
		require.Empty(t, changes)

		got, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, models.StatusRead, got.Status)
	})

	t.Run("UnboundFilterRejected", func(t *testing.T) {
		_, err := repo.UpdateStatusWhere(ctx, StatusFilter{}, sent, models.StatusDelivered, time.Now())
		require.ErrorIs(t, err, ErrUnboundFilter)
	})

	t.Run("ConcurrentDeliveredPassesChangeEachMessageOnce", func(t *testing.T) {
		const n = 5
		for i := 0; i < n; i++ {
			insert(t, repo, 70, 71, "burst")
		}

		var (
			mu    sync.Mutex
			total int
			wg    sync.WaitGroup
		)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				changes, err := repo.UpdateStatusWhere(ctx, StatusFilter{ReceiverID: 71}, sent, models.StatusDelivered, time.Now())
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				total += len(changes)
				mu.Unlock()
			}()
		}
		wg.Wait()
		require.Equal(t, n, total)
	})

	t.Run("ListBetween", func(t *testing.T) {
		first := insert(t, repo, 80, 81, "1")
		second := insert(t, repo, 81, 80, "2")
		insert(t, repo, 80, 82, "elsewhere")
		third := insert(t, repo, 80, 81, "3")

		all, err := repo.ListBetween(ctx, 80, 81, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		require.Equal(t, first, all[0].ID)
		require.Equal(t, second, all[1].ID)
		require.Equal(t, third, all[2].ID)

		latest, err := repo.ListBetween(ctx, 81, 80, 2)
		require.NoError(t, err)
		require.Len(t, latest, 2)
		require.Equal(t, second, latest[0].ID)
		require.Equal(t, third, latest[1].ID)

		none, err := repo.ListBetween(ctx, 80, 99, 10)
		require.NoError(t, err)
		require.Empty(t, none)
	})
}

func runPresenceRepositoryContract(t *testing.T, repo PresenceRepository) {
	ctx := context.Background()

	_, found, err := repo.LastSeen(ctx, 1234)
	require.NoError(t, err)
	require.False(t, found)

	first := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	require.NoError(t, repo.SaveLastSeen(ctx, 1234, first))

	got, found, err := repo.LastSeen(ctx, 1234)
	require.NoError(t, err)
	require.True(t, found)
	require.WithinDuration(t, first, got, time.Millisecond)

	second := first.Add(30 * time.Second)
	require.NoError(t, repo.SaveLastSeen(ctx, 1234, second))
	got, _, err = repo.LastSeen(ctx, 1234)
	require.NoError(t, err)
	require.WithinDuration(t, second, got, time.Millisecond)
}
