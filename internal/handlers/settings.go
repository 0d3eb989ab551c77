package handlers

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/Sandotech/Arduino-Climate-Control-System/internal/config"
	"github.com/Sandotech/Arduino-Climate-Control-System/internal/logger"
)

// SettingsResponse defines the structure for the GET /api/v1/settings response.
type SettingsResponse struct {
	Config       config.Config `json:"config"`
	ConfigFile   string        `json:"config_file"`
	AvailableIPs []string      `json:"available_ips"`
}

// interfaceAddrs is replaced in tests.
var interfaceAddrs = net.InterfaceAddrs

// HandleGetSettings provides the active configuration and the local IPv4
// addresses the web page can be reached on. Settings are read-only over
// HTTP; edit the config file instead.
func HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	ips, err := getAvailableIPs()
	if err != nil {
		logger.Error("Failed to get available IP addresses: %v", err)
		http.Error(w, "Failed to get IP addresses", http.StatusInternalServerError)
		return
	}

	response := SettingsResponse{
		Config:       config.Get(),
		ConfigFile:   config.File(),
		AvailableIPs: ips,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// getAvailableIPs returns a list of local IPv4 addresses.
func getAvailableIPs() ([]string, error) {
	ips := []string{"127.0.0.1"}
	addrs, err := interfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP.String())
			}
		}
	}
	return ips, nil
}
