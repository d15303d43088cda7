package v4l2

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// Capturer はffmpegを使ってV4L2デバイスから画像を取得する
type Capturer struct {
	devicePath string
	width      int
	height     int
	fps        int
	rotation   int
}

// NewCapturer は新しいCapturerを作成する
func NewCapturer(devicePath string, width, height, fps int) *Capturer {
	return &Capturer{
		devicePath: devicePath,
		width:      width,
		height:     height,
		fps:        fps,
	}
}

// inputArgs はffmpegの入力側の引数を返す
func (c *Capturer) inputArgs() []string {
	args := []string{
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", c.width, c.height),
	}
	if c.fps > 0 {
		args = append(args, "-r", strconv.Itoa(c.fps))
	}
	args = append(args, "-i", c.devicePath)
	if filter := rotationFilter(c.rotation); filter != "" {
		args = append(args, "-vf", filter)
	}
	return args
}

// CaptureFrameAsJPEG は1フレームをキャプチャしてJPEGバイト配列として返す
func (c *Capturer) CaptureFrameAsJPEG(ctx context.Context) ([]byte, error) {
	args := append(c.inputArgs(),
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "2", // 高品質JPEG
		"-",
	)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "JPEGフレームキャプチャに失敗 (stderr: %s)", strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// StartStream は連続キャプチャを開始する
// 起動時のエラーは戻り値で返し、読み取り中のエラーは errs に送る。ctx のキャンセルで停止する
func (c *Capturer) StartStream(ctx context.Context, frames chan<- []byte, errs chan<- error) error {
	args := append(c.inputArgs(),
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stderr = io.Discard

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "stdoutパイプの作成に失敗")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "ffmpegの起動に失敗")
	}

	go func() {
		defer func() {
			_ = cmd.Wait() // コンテキストキャンセル時のエラーは無視
		}()

		if err := readJPEGStream(ctx, stdout, frames); err != nil && ctx.Err() == nil {
			select {
			case errs <- err:
			default:
			}
		}
	}()
	return nil
}

// errStreamEnded はffmpegが自分で終了しストリームが途切れたことを表す
var errStreamEnded = errors.New("ffmpegストリームが終了しました")

// readJPEGStream はMJPEGストリームをフレームに分割して送る
// ストリームの終端もエラーとして返す
func readJPEGStream(ctx context.Context, r io.Reader, frames chan<- []byte) error {
	buffer := make([]byte, 64*1024)
	var pending []byte

	for {
		n, err := r.Read(buffer)
		if n > 0 {
			var split [][]byte
			split, pending = splitJPEGFrames(append(pending, buffer[:n]...))
			for _, frame := range split {
				select {
				case frames <- frame:
				case <-ctx.Done():
					return nil
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return errStreamEnded
			}
			return errors.Wrap(err, "フレーム読み取りエラー")
		}
	}
}

// splitJPEGFrames はバッファから完全なJPEGフレームを取り出し、残りを返す
// 開始マーカー（FF D8）より前のデータは捨てる
func splitJPEGFrames(data []byte) ([][]byte, []byte) {
	var frames [][]byte
	for {
		startIdx := bytes.Index(data, jpegStart)
		if startIdx == -1 {
			return frames, nil
		}
		data = data[startIdx:]

		endIdx := bytes.Index(data[len(jpegStart):], jpegEnd)
		if endIdx == -1 {
			rest := make([]byte, len(data))
			copy(rest, data)
			return frames, rest
		}

		frameLen := len(jpegStart) + endIdx + len(jpegEnd)
		frame := make([]byte, frameLen)
		copy(frame, data[:frameLen])
		frames = append(frames, frame)
		data = data[frameLen:]
	}
}

// rotationFilter は表示回転角に対応するffmpegのフィルタを返す
func rotationFilter(degrees int) string {
	switch ((degrees % 360) + 360) % 360 {
	case 90:
		return "transpose=1"
	case 180:
		return "transpose=1,transpose=1"
	case 270:
		return "transpose=2"
	default:
		return ""
	}
}

// SetControl はカメラのコントロールを設定する
func (c *Capturer) SetControl(ctx context.Context, control string, value int) error {
	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", c.devicePath, "--set-ctrl", fmt.Sprintf("%s=%d", control, value))
	if output, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "コントロール %s の設定に失敗: %s", control, strings.TrimSpace(string(output)))
	}
	return nil
}
