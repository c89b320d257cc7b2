package lib

import (
	"net"
	"os"
)

// Hostname returns the name this host should be known by in a cluster.
func Hostname() string {
	// Kubernetes is not ideal for stateful services regarding DNS management,
	// so the pod's IP address has to be used instead of its hostname.
	if podIP := os.Getenv("POD_IP"); podIP != "" {
		return podIP
	}

	// Docker creates a .dockerenv file at the root of the directory tree inside the container
	if _, err := os.Stat("/.dockerenv"); err == nil {
		if hostname, err := os.Hostname(); err == nil {
			return hostname
		}
	}

	return "localhost"
}

// LocalIP returns the first non-loopback IPv4 address of this host or
// 127.0.0.1 if there is none.
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip := ipnet.IP.To4(); ip != nil {
			return ip.String()
		}
	}
	return "127.0.0.1"
}
