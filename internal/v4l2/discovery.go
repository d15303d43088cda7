package v4l2

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	videoDevicePattern = regexp.MustCompile(`^/dev/video\d+$`)
	deviceNumberRegexp = regexp.MustCompile(`video(\d+)`)
)

// Discovery はLinux環境でのカメラデバイス検出を行う
type Discovery struct {
	// Pattern は検索するデバイスファイルのglobパターン
	Pattern string
}

// NewDiscovery は新しいDiscoveryを作成する
func NewDiscovery() *Discovery {
	return &Discovery{Pattern: "/dev/video*"}
}

// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
// 同じ物理カメラが複数のノードを持つ場合は最小番号のみを返す
func (d *Discovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(d.Pattern)
	if err != nil {
		return nil, errors.Wrap(err, "デバイスのスキャンに失敗")
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	seenNames := make(map[string]bool)
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !isVideoNode(match) || !d.IsDeviceAvailable(ctx, match) {
			continue
		}

		formats, err := listFormats(ctx, match)
		if err != nil || !hasColorFormat(formats) {
			continue
		}

		// 同じカメラ名のノードは番号の小さい方を優先
		if name := d.DeviceName(ctx, match); name != "" {
			if seenNames[name] {
				continue
			}
			seenNames[name] = true
		}
		devices = append(devices, match)
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
func (d *Discovery) IsDeviceAvailable(_ context.Context, device string) bool {
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// isVideoNode は /dev/videoN 形式のパスか判定する
func isVideoNode(device string) bool {
	return videoDevicePattern.MatchString(device)
}

// DeviceName はv4l2-ctlで取得したカメラ名を返す。取得できない場合は空文字
func (d *Discovery) DeviceName(ctx context.Context, device string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--info").Output()
	if err != nil {
		return ""
	}
	return parseCardType(string(output))
}

// displayName はデバイス名が取れない場合に番号から表示名を作る
func displayName(name, device string) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
}

func listFormats(ctx context.Context, device string) (string, error) {
	output, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--list-formats-ext").Output()
	if err != nil {
		return "", errors.Wrapf(err, "フォーマット一覧の取得に失敗: %s", device)
	}
	return string(output), nil
}

// parseCardType は v4l2-ctl --info の出力から "Card type" の値を抽出する
func parseCardType(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Card type") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

// hasColorFormat はカラーフォーマットを持つか判定する。グレースケールのみのノードは除外
func hasColorFormat(formats string) bool {
	return strings.Contains(formats, "YUYV") || strings.Contains(formats, "MJPG")
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumberRegexp.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}
