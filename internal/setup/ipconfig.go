package setup

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/vishvananda/netlink"
)

// ipconfig.txt 使用 Java DataOutputStream 格式（网络字节序）
const ipConfigVersion = 2

var dnsServers = []string{"8.8.8.8", "8.8.4.4"}

type ipConfigWriter struct {
	buf bytes.Buffer
	err error
}

func (w *ipConfigWriter) int32(v uint32) {
	_ = binary.Write(&w.buf, binary.BigEndian, v)
}

// utf 写入 uint16 长度前缀的字符串
func (w *ipConfigWriter) utf(s string) {
	if len(s) > math.MaxUint16 {
		w.err = fmt.Errorf("string too long: %d bytes", len(s))
		return
	}
	_ = binary.Write(&w.buf, binary.BigEndian, uint16(len(s)))
	w.buf.WriteString(s)
}

// EncodeIPConfig 生成 Android IpConfigStore 可读取的静态地址配置。
// container 带前缀长度；gateway 只取地址。
func EncodeIPConfig(container, gateway *netlink.Addr) ([]byte, error) {
	if container == nil || gateway == nil {
		return nil, fmt.Errorf("container and gateway addresses are required")
	}
	prefix, _ := container.Mask.Size()

	w := &ipConfigWriter{}
	w.int32(ipConfigVersion)
	w.utf("id")
	w.int32(0)
	w.utf("ipAssignment")
	w.utf("STATIC")
	w.utf("linkAddress")
	w.utf(container.IP.String())
	w.int32(uint32(prefix))
	w.utf("gateway")
	// 默认路由，有网关
	w.int32(0)
	w.int32(1)
	w.utf(gateway.IP.String())
	for _, dns := range dnsServers {
		w.utf("dns")
		w.utf(dns)
	}
	w.utf("eos")
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}
