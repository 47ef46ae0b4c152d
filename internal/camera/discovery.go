package camera

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	videoDevicePattern = regexp.MustCompile(`^/dev/video(\d+)$`)

	errNotVideoDevice = errors.New("V4L2デバイスではありません")
)

// LinuxDiscovery はLinux環境でのカメラデバイス検出を実装する
type LinuxDiscovery struct {
	pattern string
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() *LinuxDiscovery {
	return &LinuxDiscovery{pattern: "/dev/video*"}
}

// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
// 同じ物理カメラが複数のノードを持つ場合は番号の小さいものだけを返す
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(d.pattern)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	seen := make(map[string]bool)
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if d.CheckAccess(ctx, match) != nil {
			continue
		}
		if !d.supportsColorCapture(ctx, match) {
			continue
		}

		if name := cardName(ctx, match); name != "" {
			if seen[name] {
				continue
			}
			seen[name] = true
		}
		devices = append(devices, match)
	}

	return devices, nil
}

// CheckAccess はデバイスを読み取り用に開けるかを確認する
func (d *LinuxDiscovery) CheckAccess(_ context.Context, device string) error {
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return &Error{Kind: KindPermissionDenied, Device: device, Err: err}
		}
		return &Error{Kind: KindDeviceUnavailable, Device: device, Err: err}
	}
	_ = file.Close()

	if !videoDevicePattern.MatchString(device) {
		return &Error{Kind: KindDeviceUnavailable, Device: device, Err: errNotVideoDevice}
	}

	return nil
}

// GetDeviceInfo はデバイスの詳細情報を取得する
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if err := d.CheckAccess(ctx, device); err != nil {
		return nil, err
	}

	info := &DeviceInfo{
		Device: device,
		Name:   cardName(ctx, device),
		Driver: "uvcvideo",
	}
	if info.Name == "" {
		info.Name = fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
	}

	return info, nil
}

// supportsColorCapture はデバイスがカラー形式(YUYV/MJPG)で撮影できるかを判定する
// v4l2-ctl が無い環境では判定できないため利用可能とみなす
func (d *LinuxDiscovery) supportsColorCapture(ctx context.Context, device string) bool {
	output, err := v4l2ctl(ctx, device, "--list-formats-ext")
	if err != nil {
		return errors.Is(err, exec.ErrNotFound)
	}
	return strings.Contains(output, "YUYV") || strings.Contains(output, "MJPG")
}

// cardName は v4l2-ctl の "Card type" からカメラ名を取得する
func cardName(ctx context.Context, device string) string {
	output, err := v4l2ctl(ctx, device, "--info")
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Card type") {
			continue
		}
		if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
			return strings.TrimSpace(parts[1])
		}
	}

	return ""
}

func v4l2ctl(ctx context.Context, device string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", append([]string{"--device", device}, args...)...)
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(output), nil
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := videoDevicePattern.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	mu      sync.RWMutex
	devices []string
	denied  map[string]bool
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	return &MockDiscovery{
		devices: append([]string(nil), devices...),
		denied:  make(map[string]bool),
	}
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.devices...), nil
}

// CheckAccess は拒否設定と登録状況に応じてエラーを返す
func (m *MockDiscovery) CheckAccess(_ context.Context, device string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.denied[device] {
		return &Error{Kind: KindPermissionDenied, Device: device, Err: fs.ErrPermission}
	}
	for _, d := range m.devices {
		if d == device {
			return nil
		}
	}
	return &Error{Kind: KindDeviceUnavailable, Device: device, Err: fs.ErrNotExist}
}

// GetDeviceInfo はモックデバイス情報を取得する
func (m *MockDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if err := m.CheckAccess(ctx, device); err != nil {
		return nil, err
	}
	return &DeviceInfo{
		Device: device,
		Name:   fmt.Sprintf("テストカメラ %d", extractDeviceNumber(device)),
		Driver: "mock",
	}, nil
}

// Deny はテスト用にデバイスへのアクセスを拒否させる
func (m *MockDiscovery) Deny(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied[device] = true
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDiscovery) RemoveDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.devices {
		if d == device {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}
}
