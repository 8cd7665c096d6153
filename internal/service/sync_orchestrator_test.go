package service

//go:generate mockgen -source=submitter.go -destination=mocks/mocks.go -package=mocks Submitter,Poster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"pos-sync/internal/client"
	"pos-sync/internal/connectivity"
	"pos-sync/internal/kv"
	"pos-sync/internal/models"
	"pos-sync/internal/queue"
	"pos-sync/internal/service/mocks"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

// localIDMatcher matches a queued record by its local id
type localIDMatcher string

func (m localIDMatcher) Matches(x any) bool {
	switch rec := x.(type) {
	case models.QueuedTransaction:
		return rec.LocalID == string(m)
	case models.QueuedInventoryUpdate:
		return rec.LocalID == string(m)
	}
	return false
}

func (m localIDMatcher) String() string {
	return fmt.Sprintf("record %s", string(m))
}

func hasLocalID(id string) gomock.Matcher {
	return localIDMatcher(id)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) add(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, level+":"+msg)
}

func (r *recordingNotifier) Success(msg string) { r.add("success", msg) }
func (r *recordingNotifier) Warning(msg string) { r.add("warning", msg) }
func (r *recordingNotifier) Error(msg string)   { r.add("error", msg) }
func (r *recordingNotifier) Info(msg string)    { r.add("info", msg) }

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("storage unavailable")
}
func (brokenStore) Set(context.Context, string, string) error { return nil }
func (brokenStore) Delete(context.Context, ...string) error   { return nil }
func (brokenStore) Ping(context.Context) error                { return nil }

// =============================================================================
// Sync Orchestrator Test Suite
// =============================================================================

type SyncOrchestratorSuite struct {
	suite.Suite
	ctx           context.Context
	ctrl          *gomock.Controller
	mockSubmitter *mocks.MockSubmitter
	store         *queue.OfflineStore
	signal        *connectivity.ManualSignal
	notifier      *recordingNotifier
	orchestrator  *SyncOrchestrator
	events        []models.StatusEvent
}

func TestSyncOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(SyncOrchestratorSuite))
}

func (s *SyncOrchestratorSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.mockSubmitter = mocks.NewMockSubmitter(s.ctrl)
	s.store = queue.NewOfflineStore(kv.NewMemory())
	s.signal = connectivity.NewManualSignal(true)
	s.notifier = &recordingNotifier{}
	s.orchestrator = NewSyncOrchestrator(s.store, s.mockSubmitter, s.signal, s.notifier, nil)
	s.events = nil
	s.orchestrator.Subscribe(func(e models.StatusEvent) { s.events = append(s.events, e) })
}

func (s *SyncOrchestratorSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *SyncOrchestratorSuite) queueTransactions(n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		rec, err := s.store.QueueTransaction(s.ctx, models.Sale(fmt.Sprintf(`{"receipt":%d}`, i+1)))
		s.Require().NoError(err)
		ids = append(ids, rec.LocalID)
	}
	return ids
}

func (s *SyncOrchestratorSuite) remainingTransactions() []string {
	list, err := s.store.Transactions.List(s.ctx)
	s.Require().NoError(err)
	ids := make([]string, 0, len(list))
	for _, rec := range list {
		ids = append(ids, rec.LocalID)
	}
	return ids
}

func (s *SyncOrchestratorSuite) TestDrainsInInsertionOrder() {
	ids := s.queueTransactions(3)

	gomock.InOrder(
		s.mockSubmitter.EXPECT().SubmitTransaction(gomock.Any(), hasLocalID(ids[0])).Return(nil),
		s.mockSubmitter.EXPECT().SubmitTransaction(gomock.Any(), hasLocalID(ids[1])).Return(nil),
		s.mockSubmitter.EXPECT().SubmitTransaction(gomock.Any(), hasLocalID(ids[2])).Return(nil),
	)

	result := s.orchestrator.SyncOfflineData(s.ctx)

	s.True(result.Success)
	s.Equal(MsgSyncCompleted, result.Message)
	s.Require().NotNil(result.Results)
	s.Equal(3, result.Results.Transactions.Success)
	s.Equal(0, result.Results.Transactions.Failed)
	s.Empty(s.remainingTransactions())
}

func (s *SyncOrchestratorSuite) TestPartialFailureKeepsFailedItemQueued() {
	ids := s.queueTransactions(3)

	gomock.InOrder(
		s.mockSubmitter.EXPECT().SubmitTransaction(gomock.Any(), hasLocalID(ids[0])).
			Return(&client.HTTPError{StatusCode: http.StatusBadRequest, Message: "invalid payment method"}),
		s.mockSubmitter.EXPECT().SubmitTransaction(gomock.Any(), hasLocalID(ids[1])).Return(nil),
		s.mockSubmitter.EXPECT().SubmitTransaction(gomock.Any(), hasLocalID(ids[2])).Return(nil),
	)

	result := s.orchestrator.SyncOfflineData(s.ctx)

	s.True(result.Success)
	s.Require().NotNil(result.Results)
	s.Equal(2, result.Results.Transactions.Success)
	s.Equal(1, result.Results.Transactions.Failed)
	s.Require().Len(result.Results.Transactions.Errors, 1)
	s.Equal(ids[0], result.Results.Transactions.Errors[0].LocalID)
	s.Contains(result.Results.Transactions.Errors[0].Error, "invalid payment method")

	s.Equal([]string{ids[0]}, s.remainingTransactions())
	s.Contains(s.notifier.messages, "warning:Synced 2 of 3 offline items, 1 failed and remain queued")
}

func (s *SyncOrchestratorSuite) TestConcurrentDrainIsRejected() {
	ids := s.queueTransactions(1)

	started := make(chan struct{})
	release := make(chan struct{})
	s.mockSubmitter.EXPECT().SubmitTransaction(gomock.Any(), hasLocalID(ids[0])).
		DoAndReturn(func(context.Context, models.QueuedTransaction) error {
			close(started)
			<-release
			return nil
		}).Times(1)

	// Drop the suite subscriber; it would append from the draining goroutine.
	s.orchestrator = NewSyncOrchestrator(s.store, s.mockSubmitter, s.signal, s.notifier, nil)

	done := make(chan *models.SyncResult, 1)
	go func() { done <- s.orchestrator.SyncOfflineData(s.ctx) }()
	<-started

	s.True(s.orchestrator.IsSyncing())
	second := s.orchestrator.SyncOfflineData(s.ctx)
	s.False(second.Success)
	s.Equal(MsgSyncInProgress, second.Message)

	_, err := s.orchestrator.ForceSync(s.ctx)
	s.ErrorIs(err, ErrSyncInProgress)

	close(release)
	first := <-done
	s.True(first.Success)
	s.False(s.orchestrator.IsSyncing())
}

func (s *SyncOrchestratorSuite) TestEmptyDrainIsNoop() {
	result := s.orchestrator.SyncOfflineData(s.ctx)

	s.True(result.Success)
	s.Equal(MsgNoData, result.Message)
	s.Nil(result.Results)
	s.Empty(s.events)
	s.False(s.orchestrator.IsSyncing())

	last, err := s.store.LastSyncTime(s.ctx)
	s.NoError(err)
	s.Nil(last)
}

func (s *SyncOrchestratorSuite) TestProgressEvents() {
	s.queueTransactions(1)
	_, err := s.store.QueueInventoryUpdate(s.ctx, models.InventoryDelta{ProductID: "p1", Quantity: -1})
	s.Require().NoError(err)

	s.mockSubmitter.EXPECT().SubmitTransaction(gomock.Any(), gomock.Any()).Return(nil)
	s.mockSubmitter.EXPECT().SubmitInventoryUpdate(gomock.Any(), gomock.Any()).Return(nil)

	s.orchestrator.SyncOfflineData(s.ctx)

	s.Require().Len(s.events, 4)
	s.Equal(models.StatusEvent{Syncing: true, Progress: 0}, s.events[0])
	s.Equal(models.StatusEvent{Syncing: true, Progress: 50}, s.events[1])
	s.Equal(models.StatusEvent{Syncing: true, Progress: 100}, s.events[2])

	final := s.events[3]
	s.False(final.Syncing)
	s.True(final.Completed)
	s.Equal(100, final.Progress)
	s.Require().NotNil(final.Results)
	s.Equal(1, final.Results.Transactions.Success)
	s.Equal(1, final.Results.InventoryUpdates.Success)
}

func (s *SyncOrchestratorSuite) TestProgressIsRounded() {
	s.queueTransactions(3)
	s.mockSubmitter.EXPECT().SubmitTransaction(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	s.orchestrator.SyncOfflineData(s.ctx)

	var progress []int
	for _, e := range s.events {
		if e.Syncing {
			progress = append(progress, e.Progress)
		}
	}
	s.Equal([]int{0, 33, 67, 100}, progress)
}

func (s *SyncOrchestratorSuite) TestCompletionRecordsSyncTimeAndClearsOverrides() {
	_, err := s.store.QueueInventoryUpdate(s.ctx, models.InventoryDelta{ProductID: "p1", Quantity: -2})
	s.Require().NoError(err)
	s.mockSubmitter.EXPECT().SubmitInventoryUpdate(gomock.Any(), gomock.Any()).Return(nil)

	s.orchestrator.SyncOfflineData(s.ctx)

	last, err := s.store.LastSyncTime(s.ctx)
	s.NoError(err)
	s.NotNil(last)

	overrides, err := s.store.InventoryOverrides(s.ctx)
	s.NoError(err)
	s.Empty(overrides)

	status, err := s.orchestrator.Status(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, status.PendingCount.Total)
	s.False(status.IsSyncing)
	s.NotNil(status.LastSyncTime)
}

func (s *SyncOrchestratorSuite) TestQueueReadFailureAbortsDrain() {
	broken := queue.NewOfflineStore(brokenStore{})
	s.orchestrator = NewSyncOrchestrator(broken, s.mockSubmitter, s.signal, s.notifier, nil)
	s.orchestrator.Subscribe(func(e models.StatusEvent) { s.events = append(s.events, e) })

	result := s.orchestrator.SyncOfflineData(s.ctx)

	s.False(result.Success)
	s.Contains(result.Message, "storage unavailable")
	s.Require().Len(s.events, 1)
	s.False(s.events[0].Syncing)
	s.Equal(0, s.events[0].Progress)
	s.Contains(s.events[0].Error, "storage unavailable")
	s.False(s.orchestrator.IsSyncing())
	s.Len(s.notifier.messages, 1)
}

func (s *SyncOrchestratorSuite) TestForceSyncWhileOffline() {
	s.queueTransactions(1)
	s.signal.Set(false)

	result, err := s.orchestrator.ForceSync(s.ctx)

	s.ErrorIs(err, ErrOffline)
	s.Nil(result)
	s.Equal([]string{"error:Cannot sync while offline"}, s.notifier.messages)
	s.Len(s.remainingTransactions(), 1)
}

func (s *SyncOrchestratorSuite) TestForceSyncDrains() {
	s.queueTransactions(1)
	s.mockSubmitter.EXPECT().SubmitTransaction(gomock.Any(), gomock.Any()).Return(nil)

	result, err := s.orchestrator.ForceSync(s.ctx)

	s.NoError(err)
	s.True(result.Success)
	s.Contains(s.notifier.messages, "success:Synced 1 offline items")
}

func (s *SyncOrchestratorSuite) TestAutoSyncSkipsEmptyQueue() {
	s.orchestrator.AutoSync(s.ctx)
	s.Empty(s.events)
	s.Empty(s.notifier.messages)
}

func (s *SyncOrchestratorSuite) TestAutoSyncSkipsWhenOffline() {
	s.queueTransactions(1)
	s.signal.Set(false)

	s.orchestrator.AutoSync(s.ctx)

	s.Empty(s.events)
	s.Len(s.remainingTransactions(), 1)
}

func (s *SyncOrchestratorSuite) TestAutoSyncDrains() {
	s.queueTransactions(2)
	s.mockSubmitter.EXPECT().SubmitTransaction(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	s.orchestrator.AutoSync(s.ctx)

	s.Empty(s.remainingTransactions())
}

func (s *SyncOrchestratorSuite) TestAutoSyncSwallowsFailures() {
	s.queueTransactions(1)
	s.mockSubmitter.EXPECT().SubmitTransaction(gomock.Any(), gomock.Any()).
		Return(&client.NetworkError{Err: errors.New("connection reset")})

	s.NotPanics(func() { s.orchestrator.AutoSync(s.ctx) })
	s.Len(s.remainingTransactions(), 1)
}

func (s *SyncOrchestratorSuite) TestItemsQueuedDuringDrainWaitForNextPass() {
	ids := s.queueTransactions(1)

	var lateID string
	s.mockSubmitter.EXPECT().SubmitTransaction(gomock.Any(), hasLocalID(ids[0])).
		DoAndReturn(func(context.Context, models.QueuedTransaction) error {
			rec, err := s.store.QueueTransaction(s.ctx, models.Sale(`{"late":true}`))
			s.Require().NoError(err)
			lateID = rec.LocalID
			return nil
		})

	result := s.orchestrator.SyncOfflineData(s.ctx)
	s.Equal(1, result.Results.Transactions.Success)
	s.Equal([]string{lateID}, s.remainingTransactions())
}

func (s *SyncOrchestratorSuite) TestUnsubscribe() {
	calls := 0
	unsubscribe := s.orchestrator.Subscribe(func(models.StatusEvent) { calls++ })
	unsubscribe()

	s.queueTransactions(1)
	s.mockSubmitter.EXPECT().SubmitTransaction(gomock.Any(), gomock.Any()).Return(nil)
	s.orchestrator.SyncOfflineData(s.ctx)

	s.Equal(0, calls)
	s.NotEmpty(s.events)
}

func (s *SyncOrchestratorSuite) TestStatusReflectsOfflineFlag() {
	s.Require().NoError(s.store.SetOfflineMode(s.ctx, true))
	s.queueTransactions(2)

	status, err := s.orchestrator.Status(s.ctx)
	s.Require().NoError(err)
	s.True(status.IsOffline)
	s.Equal(models.PendingCount{Transactions: 2, Total: 2}, status.PendingCount)
	s.Nil(status.LastSyncTime)
	s.Equal(0, status.Progress)
}
