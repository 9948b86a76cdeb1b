package inmemory

import (
	"sync"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	ports "github.com/admin/agro-bots/farm-insights/internal/ports/repository"
	"github.com/google/uuid"
)

// Store in-memory хранилище с той же семантикой, что и Postgres-репозитории.
// mu защищает карты, keyed-мьютексы сериализуют read-modify-write по пользователю и ферме.
type Store struct {
	mu           sync.RWMutex
	farms        map[uuid.UUID]*domain.Farm
	observations map[uuid.UUID][]*domain.Observation // farm_id -> по возрастанию observed_at
	entries      map[uuid.UUID][]*domain.LedgerEntry // user_id -> в порядке добавления
	accounts     map[uuid.UUID]*account
	insights     map[uuid.UUID]*domain.InsightRequest
	lastClaim    map[uuid.UUID]time.Time

	userLocks keyedMutex
	farmLocks keyedMutex
}

type account struct {
	memo   int64
	opened bool
}

func New() *Store {
	return &Store{
		farms:        make(map[uuid.UUID]*domain.Farm),
		observations: make(map[uuid.UUID][]*domain.Observation),
		entries:      make(map[uuid.UUID][]*domain.LedgerEntry),
		accounts:     make(map[uuid.UUID]*account),
		insights:     make(map[uuid.UUID]*domain.InsightRequest),
		lastClaim:    make(map[uuid.UUID]time.Time),
		userLocks:    keyedMutex{locks: make(map[uuid.UUID]*keyedLock)},
		farmLocks:    keyedMutex{locks: make(map[uuid.UUID]*keyedLock)},
	}
}

func (s *Store) Farms() ports.IFarmRepo               { return (*farmRepo)(s) }
func (s *Store) Observations() ports.IObservationRepo { return (*observationRepo)(s) }
func (s *Store) Ledger() ports.ILedgerRepo            { return (*ledgerRepo)(s) }
func (s *Store) Insights() ports.IInsightRepo         { return (*insightRepo)(s) }
func (s *Store) Rewards() ports.IRewardRepo           { return (*rewardRepo)(s) }

// keyedMutex мьютекс на ключ; запись удаляется, когда её никто не держит
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

// Lock захватывает мьютекс ключа и возвращает функцию освобождения
func (k *keyedMutex) Lock(key uuid.UUID) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
