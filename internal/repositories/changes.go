package repositories

import "sync"

// ChangeFeed はコミット済みの書き込みをリスナーへ同期的に通知します。
// バージョンはコミットごとに1ずつ増加します。
type ChangeFeed struct {
	mu        sync.Mutex
	version   uint64
	nextID    int
	listeners map[int]func(version uint64)
	order     []int
}

// NewChangeFeed は空のフィードを作成します。
func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{listeners: make(map[int]func(uint64))}
}

// Subscribe はリスナーを登録し、登録解除用の関数を返します。
func (f *ChangeFeed) Subscribe(fn func(version uint64)) (cancel func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.order = append(f.order, id)
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.listeners, id)
			for i, v := range f.order {
				if v == id {
					f.order = append(f.order[:i], f.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish はバージョンを進め、登録順にリスナーを呼び出します。
// 呼び出し側 (ストア) は書き込みロックを保持したまま呼ぶため、通知はコミット順になります。
func (f *ChangeFeed) Publish() uint64 {
	f.mu.Lock()
	f.version++
	version := f.version
	fns := make([]func(uint64), 0, len(f.order))
	for _, id := range f.order {
		fns = append(fns, f.listeners[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(version)
	}
	return version
}

// Version は最後に公開されたバージョンを返します。
func (f *ChangeFeed) Version() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}
