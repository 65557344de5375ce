package camera

import "sync"

// DefaultBufferSize はカメラごとに保持するフレーム数
const DefaultBufferSize = 4

// FrameBuffer は直近 N フレームを保持するリングバッファ
//
// Push は単一のキャプチャループからのみ呼ばれる。Latest は任意の数の視聴者から
// 同時に呼ばれてよい。ロックはメモリ操作の間だけ保持され、ネットワークI/Oを
// またぐことはない。
type FrameBuffer struct {
	mu     sync.RWMutex
	frames []*Frame
	head   int // 次に書き込む位置
	size   int
}

// NewFrameBuffer は容量 capacity のFrameBufferを作成する
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &FrameBuffer{
		frames: make([]*Frame, capacity),
	}
}

// Push はフレームを追加する。容量に達している場合は最も古いフレームを捨てる
func (b *FrameBuffer) Push(frame *Frame) {
	if frame == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames[b.head] = frame
	b.head = (b.head + 1) % len(b.frames)
	if b.size < len(b.frames) {
		b.size++
	}
}

// Latest は最新のフレームを返す。まだフレームがない場合は false を返す
func (b *FrameBuffer) Latest() (*Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return nil, false
	}
	idx := (b.head - 1 + len(b.frames)) % len(b.frames)
	return b.frames[idx], true
}

// Frames は保持しているフレームを古い順に返す
func (b *FrameBuffer) Frames() []*Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Frame, 0, b.size)
	start := (b.head - b.size + len(b.frames)) % len(b.frames)
	for i := 0; i < b.size; i++ {
		out = append(out, b.frames[(start+i)%len(b.frames)])
	}
	return out
}

// Len は保持しているフレーム数を返す
func (b *FrameBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap はバッファの容量を返す
func (b *FrameBuffer) Cap() int {
	return len(b.frames)
}

// Reset は全てのフレームを破棄する
func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.frames {
		b.frames[i] = nil
	}
	b.head = 0
	b.size = 0
}
