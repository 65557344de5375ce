// Package httpmjpeg は HTTP で MJPEG を配信するカメラを上流として開く
package httpmjpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/mattn/go-mjpeg"

	"streamrelay/internal/camera"
)

// Opener は HTTP MJPEG カメラへ接続する
type Opener struct {
	client *http.Client
}

// NewOpener は新しいOpenerを作成する。client が nil の場合は専用のクライアントを使う
func NewOpener(client *http.Client) *Opener {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 10 * time.Second,
				ReadBufferSize:        camera.DefaultOpenOptions().ReceiveBufferSize,
			},
		}
	}
	return &Opener{client: client}
}

// Open はカメラにリクエストを送り、multipart レスポンスのデコーダを返す
// HTTPはTCP上で動くため Transport の指定は不要
func (o *Opener) Open(ctx context.Context, rawURL string, _ camera.OpenOptions) (camera.Decoder, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("カメラへの接続に失敗: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("予期しないステータスコード: %d", resp.StatusCode)
	}

	dec, err := mjpeg.NewDecoderFromResponse(resp)
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("MJPEGデコーダの作成に失敗: %w", err)
	}

	return &decoder{dec: dec, body: resp.Body}, nil
}

type decoder struct {
	dec  *mjpeg.Decoder
	body io.Closer
}

// Read は次のパートをデコードする
func (d *decoder) Read() (image.Image, error) {
	img, err := d.dec.Decode()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: %v", camera.ErrStreamClosed, err)
	}
	return img, err
}

// Close はレスポンスボディを閉じる
func (d *decoder) Close() error {
	return d.body.Close()
}
