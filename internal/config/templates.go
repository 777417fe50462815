package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `addr = ":5050"
repo_dir = "repo"
max_clients = 3
# Empty disables the admin HTTP endpoint.
admin_listen_addr = ""
cors_origins = ["http://localhost:3000"]
# Empty or "0s" waits forever.
read_timeout = ""
write_timeout = ""
max_payload_bytes = 67108864
`

const clientTemplate = `addr = "127.0.0.1:5050"
name = ""
download_dir = "downloads"
dial_timeout = "5s"
max_payload_bytes = 67108864
`
