package ffmpeg

import (
	"bytes"
	"image"
	"image/jpeg"
	"slices"
	"testing"

	"streamrelay/internal/camera"
)

func encodeTestJPEG(t *testing.T, width int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, width, 4)), nil); err != nil {
		t.Fatalf("jpeg.Encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestFrameScanner(t *testing.T) {
	first := encodeTestJPEG(t, 4)
	second := encodeTestJPEG(t, 6)

	// 先頭のゴミと末尾の不完全なフレームは無視される
	var stream bytes.Buffer
	stream.WriteString("noise")
	stream.Write(first)
	stream.Write(second)
	stream.Write(first[:len(first)/2])

	scanner := NewFrameScanner(&stream)

	var widths []int
	for scanner.Scan() {
		img, err := jpeg.Decode(bytes.NewReader(scanner.Bytes()))
		if err != nil {
			t.Fatalf("Failed to decode frame: %v", err)
		}
		widths = append(widths, img.Bounds().Dx())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Scanner error: %v", err)
	}

	if !slices.Equal(widths, []int{4, 6}) {
		t.Errorf("Expected frames of width [4 6], got %v", widths)
	}
}

func TestSplitJPEG(t *testing.T) {
	testCases := []struct {
		name          string
		data          []byte
		atEOF         bool
		expectAdvance int
		expectToken   []byte
	}{
		{"空", nil, false, 0, nil},
		{"SOIなし", []byte{0x01, 0x02, 0x03}, false, 2, nil},
		{"SOIなし(EOF)", []byte{0x01, 0x02, 0x03}, true, 3, nil},
		{"EOI待ち", []byte{0x00, 0xFF, 0xD8, 0x10}, false, 1, nil},
		{"完全なフレーム", []byte{0x00, 0xFF, 0xD8, 0x10, 0xFF, 0xD9, 0x20}, false, 6, []byte{0xFF, 0xD8, 0x10, 0xFF, 0xD9}},
		{"不完全なフレーム(EOF)", []byte{0xFF, 0xD8, 0x10}, true, 3, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			advance, token, err := SplitJPEG(tc.data, tc.atEOF)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if advance != tc.expectAdvance {
				t.Errorf("Expected advance %d, got %d", tc.expectAdvance, advance)
			}
			if !bytes.Equal(token, tc.expectToken) {
				t.Errorf("Expected token %x, got %x", tc.expectToken, token)
			}
		})
	}
}

func TestArgs(t *testing.T) {
	opts := camera.OpenOptions{Transport: "tcp", ReceiveBufferSize: 1 << 20}

	rtspArgs := Args("rtsp://camera.local/live", opts)
	for _, want := range []string{"-rtsp_transport", "tcp", "-buffer_size", "1048576", "rtsp://camera.local/live", "image2pipe"} {
		if !slices.Contains(rtspArgs, want) {
			t.Errorf("Expected %q in args %v", want, rtspArgs)
		}
	}
	if rtspArgs[len(rtspArgs)-1] != "-" {
		t.Errorf("Expected output to stdout, got %v", rtspArgs)
	}

	// RTSP以外ではトランスポート指定を付けない
	fileArgs := Args("file:///tmp/sample.mp4", opts)
	if slices.Contains(fileArgs, "-rtsp_transport") {
		t.Errorf("Unexpected RTSP options for file input: %v", fileArgs)
	}
}
