package repository

import "sync"

// DateLocker は日付ごとのプロセス内ミューテックス。
// トランザクションを持たないバックエンドのWithinDateで使用する。
// 同じストアを複数プロセスから使う場合の競合は防げない。
type DateLocker struct {
	mu    sync.Mutex
	locks map[string]*dateLock
}

type dateLock struct {
	mu   sync.Mutex
	refs int
}

// NewDateLocker はDateLockerを生成する。
func NewDateLocker() *DateLocker {
	return &DateLocker{locks: make(map[string]*dateLock)}
}

// Lock はdateのロックを取得し、解放関数を返す。
// 待機者がいなくなったエントリは解放時に削除する。
func (l *DateLocker) Lock(date string) func() {
	l.mu.Lock()
	dl, ok := l.locks[date]
	if !ok {
		dl = &dateLock{}
		l.locks[date] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, date)
		}
		l.mu.Unlock()
	}
}
