// Package camera はカメラごとのキャプチャと視聴者への配信を担う
//
// # 責務
// - 上流（RTSP/HTTP MJPEG）への接続を視聴者がいる間だけ1本維持する
// - デコード済みフレームを直近 N 枚のリングバッファに保持する
// - 視聴者ごとに最新フレームを multipart/x-mixed-replace のパートとして書き出す
// - カメラIDから Source への対応を管理する
//
// # 構成
// - FrameBuffer: 直近 N フレームのリングバッファ
// - CaptureLoop: 上流を開き、フレームを読み取り続けるゴルーチン
// - Source: 購読者数を数え、0→1 でループを起動し 1→0 で停止を要求する
// - Registry: カメラIDごとの Source
// - Multiplexer: 視聴者1人分のMJPEG配信とスナップショット
// - SchemeOpener: URLスキームごとのデコードバックエンドの切り替え
//
// # 仕様
// - 1つの Source に同時に存在する上流接続は常に1本以下
// - 停止はイテレーションの境界で観測され、読み取りの途中では中断しない
// - 上流を開けない場合は ReconnectPolicy に従って再試行する
// - 読み取り失敗が続くと degraded となり、間隔を空けて読み直す
// - フレームは Push 後に変更されず、全ての視聴者で共有される
//
// デコードバックエンドはサブパッケージ opencv（gocv）、ffmpeg（子プロセス）、
// httpmjpeg（go-mjpeg）にある。
package camera
