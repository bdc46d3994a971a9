package usecase

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/totegamma/basedfeed/internal/domain"
)

var (
	viewer = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	other  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func creation(id int64, actor common.Address) domain.RawEvent {
	return domain.RawEvent{
		Kind:      domain.EventKindCreation,
		SubjectID: id,
		Actor:     actor,
		LogIndex:  id * 10,
		Payload: map[string]any{
			domain.PayloadTokenURI: fmt.Sprintf("https://ipfs.io/ipfs/Qm%d", id),
			domain.PayloadPrice:    big.NewInt(1000 + id),
			domain.PayloadAmount:   big.NewInt(5),
			domain.PayloadDate:     big.NewInt(1700000000 + id),
		},
	}
}

func creations(actor common.Address, ids ...int64) []domain.RawEvent {
	events := make([]domain.RawEvent, 0, len(ids))
	for _, id := range ids {
		events = append(events, creation(id, actor))
	}
	return events
}

func purchase(id int64, buyer common.Address, price int64, logIndex int64) domain.RawEvent {
	return domain.RawEvent{
		Kind:      domain.EventKindPurchase,
		SubjectID: id,
		Actor:     buyer,
		LogIndex:  logIndex,
		Payload: map[string]any{
			domain.PayloadPrice: big.NewInt(price),
			domain.PayloadDate:  big.NewInt(1800000000 + id),
		},
	}
}

func cid(id int64) string { return fmt.Sprintf("Qm%d", id) }

// --- event source ---

type mockEventSource struct {
	mu          sync.Mutex
	events      map[domain.EventKind][]domain.RawEvent
	fail        map[domain.EventKind]error
	calls       map[domain.EventKind]int
	subscribers []func(domain.RawEvent)
}

func newMockEventSource() *mockEventSource {
	return &mockEventSource{
		events: make(map[domain.EventKind][]domain.RawEvent),
		fail:   make(map[domain.EventKind]error),
		calls:  make(map[domain.EventKind]int),
	}
}

func (m *mockEventSource) add(events ...domain.RawEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		m.events[e.Kind] = append(m.events[e.Kind], e)
	}
}

func (m *mockEventSource) setFail(kind domain.EventKind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, kind)
		return
	}
	m.fail[kind] = err
}

func (m *mockEventSource) callCount(kind domain.EventKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[kind]
}

func (m *mockEventSource) FetchRange(ctx context.Context, kind domain.EventKind, from int64, count int) ([]domain.RawEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[kind]++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.fail[kind]; err != nil {
		return nil, err
	}
	events := m.events[kind]
	if from >= int64(len(events)) {
		return nil, nil
	}
	end := from + int64(count)
	if end > int64(len(events)) {
		end = int64(len(events))
	}
	return append([]domain.RawEvent(nil), events[from:end]...), nil
}

func (m *mockEventSource) Subscribe(ctx context.Context, kind domain.EventKind, fn func(domain.RawEvent)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
	return func() {}, nil
}

// push appends a live event and notifies subscribers.
func (m *mockEventSource) push(e domain.RawEvent) {
	m.mu.Lock()
	m.events[e.Kind] = append(m.events[e.Kind], e)
	subs := slices.Clone(m.subscribers)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

// --- content resolver ---

// mockResolver serves a valid record for every content id unless told otherwise.
type mockResolver struct {
	mu      sync.Mutex
	records map[string]domain.ContentRecord
	errs    map[string]error
	calls   map[string]int
	hook    func(ctx context.Context, contentID string)
}

func newMockResolver() *mockResolver {
	return &mockResolver{
		records: make(map[string]domain.ContentRecord),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (m *mockResolver) Resolve(ctx context.Context, contentID string) (domain.ContentRecord, error) {
	if m.hook != nil {
		m.hook(ctx, contentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[contentID]++
	if err := ctx.Err(); err != nil {
		return domain.ContentRecord{}, err
	}
	if err := m.errs[contentID]; err != nil {
		return domain.ContentRecord{}, err
	}
	if r, ok := m.records[contentID]; ok {
		return r, nil
	}
	return domain.ContentRecord{
		ContentID:   contentID,
		Name:        "article " + contentID,
		Description: "description",
		ImageURI:    "https://ipfs.io/ipfs/img-" + contentID,
		Attributes:  []domain.Attribute{{TraitType: "category", Value: "news"}},
	}, nil
}

func (m *mockResolver) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// --- subject state ---

type mockState struct {
	mu        sync.Mutex
	bookmarks map[int64]bool
	counts    map[int64]int64
	stock     map[int64]int64
	lookupErr error
	countErr  error
	lookups   int

	// when set, every read announces itself on arrive and waits for gate
	arrive chan string
	gate   chan struct{}
}

func (m *mockState) hold(call string) {
	if m.arrive == nil {
		return
	}
	m.arrive <- call
	<-m.gate
}

func newMockState() *mockState {
	return &mockState{
		bookmarks: make(map[int64]bool),
		counts:    make(map[int64]int64),
		stock:     make(map[int64]int64),
	}
}

func (m *mockState) IsBookmarked(ctx context.Context, who common.Address, subjectID int64) (bool, error) {
	m.hold("bookmarked")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.lookupErr != nil {
		return false, m.lookupErr
	}
	if who != viewer {
		return false, nil
	}
	return m.bookmarks[subjectID], nil
}

func (m *mockState) BookmarkCount(ctx context.Context, subjectID int64) (int64, error) {
	m.hold("bookmarkCount")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	return m.counts[subjectID], nil
}

func (m *mockState) StockRemaining(ctx context.Context, subjectID int64) (int64, error) {
	m.hold("stockRemaining")
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.stock[subjectID]; ok {
		return n, nil
	}
	return 5, nil
}

// --- mutation gateway ---

type mockMutations struct {
	mu        sync.Mutex
	err       error
	toggles   []bool
	purchases []int64
	created   []string
	nextID    int64
}

func (m *mockMutations) SubmitBookmarkToggle(ctx context.Context, subjectID int64, desired bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toggles = append(m.toggles, desired)
	return m.err
}

func (m *mockMutations) SubmitPurchase(ctx context.Context, subjectID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases = append(m.purchases, subjectID)
	return m.err
}

func (m *mockMutations) SubmitCreate(ctx context.Context, contentID string, price *big.Int, stock int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.created = append(m.created, contentID)
	m.nextID++
	return m.nextID, nil
}

func newTestAggregator(policy domain.JoinPolicy, source EventSource, content ContentResolver, state SubjectState, pageSize int) *FeedAggregator {
	var bookmarks BookmarkState
	if state != nil {
		bookmarks = state
	}
	return NewFeedAggregator(
		"feed-test",
		policy,
		source,
		NewRecordJoiner(bookmarks, 4),
		content,
		state,
		FeedOptions{PageSize: pageSize, Concurrency: 4, PurchaseBatch: 4},
	)
}
