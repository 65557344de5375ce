package camera

import "time"

// ReconnectPolicy は上流を開けなかったときの再試行方針
//
// MaxRetries が 0 の場合は再試行せず、ループは Stopped に遷移する。
// 次の視聴者が購読した時点で新しいループが起動される。
type ReconnectPolicy struct {
	MaxRetries    int           `yaml:"max_retries"`     // 最大再試行回数
	RetryDelay    time.Duration `yaml:"retry_delay"`     // 初回の待ち時間
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"` // 待ち時間の上限
}

// DefaultReconnectPolicy はデフォルトの再接続方針を返す
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxRetries:    3,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Backoff は attempt 回目（1始まり）の再試行前に待つ時間を返す
// RetryDelay * 2^(attempt-1) を MaxRetryDelay で頭打ちにする
func (p ReconnectPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.RetryDelay <= 0 {
		return 0
	}

	delay := p.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxRetryDelay > 0 && delay >= p.MaxRetryDelay {
			return p.MaxRetryDelay
		}
	}
	if p.MaxRetryDelay > 0 && delay > p.MaxRetryDelay {
		return p.MaxRetryDelay
	}
	return delay
}

// ReadFailurePolicy は読み取り失敗が続いたときの方針
//
// 連続失敗が MaxConsecutiveFailures に達するまでは即座に読み直す。
// 達した後は degraded として扱い、FailureBackoff ずつ間隔を空けて読み直す。
// 1回でも読み取りに成功すれば degraded は解除される。
type ReadFailurePolicy struct {
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	FailureBackoff         time.Duration `yaml:"failure_backoff"`
}

// DefaultReadFailurePolicy はデフォルトの読み取り失敗方針を返す
func DefaultReadFailurePolicy() ReadFailurePolicy {
	return ReadFailurePolicy{
		MaxConsecutiveFailures: 30,
		FailureBackoff:         500 * time.Millisecond,
	}
}

// LoopConfig はキャプチャループの設定
type LoopConfig struct {
	TargetFPS   int
	Open        OpenOptions
	Reconnect   ReconnectPolicy
	ReadFailure ReadFailurePolicy
}

// DefaultLoopConfig はデフォルトのループ設定を返す
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		TargetFPS:   30,
		Open:        DefaultOpenOptions(),
		Reconnect:   DefaultReconnectPolicy(),
		ReadFailure: DefaultReadFailurePolicy(),
	}
}

// interval は1フレームあたりの目標時間を返す
func (c LoopConfig) interval() time.Duration {
	if c.TargetFPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.TargetFPS)
}
