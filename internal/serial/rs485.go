package serial

import (
	"fmt"
	"os"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/linjuya-lu/uart_interface_go/internal/config"
	"github.com/linjuya-lu/uart_interface_go/internal/uart"
)

// RS485Binding 实现 RS-485 半双工物理层：
// - 发送期间拉高 DE/RE GPIO
// - 其余时间保持低电平 (接收)
type RS485Binding struct {
	*hwPort
	gpioFD *os.File // DE/RE 控制 GPIO 节点
}

// 构造 RS485Binding 实例
func NewRS485Binding(cfg config.Port, lc logger.LoggingClient) *RS485Binding {
	return &RS485Binding{hwPort: newHWPort(cfg, openTarm, lc)}
}

// Start 导出 GPIO，切换到接收并打开串口
func (r *RS485Binding) Start() error {
	if r.gpioFD == nil {
		if err := exportGPIO(r.cfg.DEPin); err != nil {
			return fmt.Errorf("export GPIO %d: %v: %w", r.cfg.DEPin, err, uart.ErrHardware)
		}
		time.Sleep(100 * time.Millisecond)
		if err := setGPIODirection(r.cfg.DEPin, "out"); err != nil {
			return fmt.Errorf("set GPIO %d direction: %v: %w", r.cfg.DEPin, err, uart.ErrHardware)
		}
		f, err := openGPIOValue(r.cfg.DEPin)
		if err != nil {
			return fmt.Errorf("open GPIO %d value: %v: %w", r.cfg.DEPin, err, uart.ErrHardware)
		}
		// 默认低电平 (接收)
		if _, err := f.WriteString("0"); err != nil {
			f.Close()
			return fmt.Errorf("init GPIO %d low: %v: %w", r.cfg.DEPin, err, uart.ErrHardware)
		}
		r.gpioFD = f
	}
	if err := r.hwPort.Start(); err != nil {
		r.closeGPIO()
		return err
	}
	return nil
}

// Stop 关闭串口并释放 GPIO
func (r *RS485Binding) Stop() error {
	err := r.hwPort.Stop()
	r.closeGPIO()
	return err
}

// Send 切换到发送，写入 p，等待移位寄存器发完后切回接收
func (r *RS485Binding) Send(p []byte) (int, error) {
	if r.gpioFD == nil {
		return 0, fmt.Errorf("port %s not open: %w", r.cfg.Name, uart.ErrClosed)
	}
	if _, err := r.gpioFD.WriteString("1"); err != nil {
		return 0, fmt.Errorf("GPIO DE high: %v: %w", err, uart.ErrHardware)
	}
	time.Sleep(5 * time.Millisecond)

	n, err := r.hwPort.Send(p)
	if err != nil {
		r.gpioFD.WriteString("0")
		return n, err
	}
	// 每字节在线路上占 10 位
	time.Sleep(time.Duration(n*10) * time.Second / time.Duration(r.cfg.Baudrate))

	if _, err := r.gpioFD.WriteString("0"); err != nil {
		return n, fmt.Errorf("GPIO DE low: %v: %w", err, uart.ErrHardware)
	}
	return n, nil
}

func (r *RS485Binding) closeGPIO() {
	if r.gpioFD != nil {
		r.gpioFD.Close()
		r.gpioFD = nil
	}
}

// -------------------- GPIO 辅助函数 --------------------

func exportGPIO(pin int) error {
	f, err := os.OpenFile("/sys/class/gpio/export", os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _ = f.WriteString(fmt.Sprint(pin)) // 已导出也没关系
	return nil
}

func setGPIODirection(pin int, dir string) error {
	path := fmt.Sprintf("/sys/class/gpio/gpio%d/direction", pin)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(dir)
	return err
}

func openGPIOValue(pin int) (*os.File, error) {
	path := fmt.Sprintf("/sys/class/gpio/gpio%d/value", pin)
	return os.OpenFile(path, os.O_RDWR, 0)
}
