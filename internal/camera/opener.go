package camera

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// SchemeOpener はURLスキームごとに Opener を切り替える
type SchemeOpener struct {
	mu      sync.RWMutex
	openers map[string]Opener
}

// NewSchemeOpener は新しいSchemeOpenerを作成する
func NewSchemeOpener() *SchemeOpener {
	return &SchemeOpener{
		openers: make(map[string]Opener),
	}
}

// Register はスキームに Opener を登録する
func (s *SchemeOpener) Register(scheme string, opener Opener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openers[strings.ToLower(scheme)] = opener
}

// Schemes は登録されているスキームを返す
func (s *SchemeOpener) Schemes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schemes := make([]string, 0, len(s.openers))
	for scheme := range s.openers {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

// Supports はURLのスキームに対応する Opener があるかを返す
func (s *SchemeOpener) Supports(rawURL string) bool {
	_, err := s.lookup(rawURL)
	return err == nil
}

// Open はURLのスキームに対応する Opener で上流を開く
func (s *SchemeOpener) Open(ctx context.Context, rawURL string, opts OpenOptions) (Decoder, error) {
	opener, err := s.lookup(rawURL)
	if err != nil {
		return nil, err
	}
	return opener.Open(ctx, rawURL, opts)
}

func (s *SchemeOpener) lookup(rawURL string) (Opener, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("URLの解析に失敗: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	opener, exists := s.openers[strings.ToLower(u.Scheme)]
	if !exists {
		return nil, fmt.Errorf("サポートされていないスキーム: %q", u.Scheme)
	}
	return opener, nil
}

// CaptureOptions は OpenOptions を FFmpeg の "key;value|key;value" 形式で返す
// OpenCV の OPENCV_FFMPEG_CAPTURE_OPTIONS に渡す形式
func (o OpenOptions) CaptureOptions() string {
	merged, _ := o.MergeCaptureOptions("")
	return merged
}

// MergeCaptureOptions は既に設定されているオプション文字列 preset に o の設定を追加する
// preset に同じキーがある場合は preset の値を残し、値が異なるキーを conflicts に返す
func (o OpenOptions) MergeCaptureOptions(preset string) (merged string, conflicts []string) {
	var pairs []string
	existing := make(map[string]string)
	for _, pair := range strings.Split(preset, "|") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, ";")
		existing[key] = value
		pairs = append(pairs, pair)
	}

	add := func(key, value string) {
		current, exists := existing[key]
		if !exists {
			pairs = append(pairs, key+";"+value)
			return
		}
		if current != value {
			conflicts = append(conflicts, key)
		}
	}
	if o.Transport != "" {
		add("rtsp_transport", o.Transport)
	}
	if o.ReceiveBufferSize > 0 {
		add("buffer_size", strconv.Itoa(o.ReceiveBufferSize))
	}

	return strings.Join(pairs, "|"), conflicts
}
