// Package config loads the relayer's immutable startup configuration,
// mirroring original_source/src/config.py: an RPC endpoint, a relayer
// signing key (an in-process secret key, or a remote signer daemon's URL),
// a log level, and a database connection resolved either from a single
// URL or a sectioned INI file (original_source/src/database.py's
// database.ini).
package config

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the fully resolved, read-only configuration bundle. It is
// constructed once at startup and passed down the call graph; nothing in
// this module keeps a package-level copy of it.
type Config struct {
	RPCEndpoint    string
	SecretKey      string
	RemoteSignerURL string
	RelayerAddress  string
	LogLevel       string
	DatabaseURL    string
	HTTPAddr       string
	ReconcilerTries int
	ReconcilerWait  time.Duration
}

// Load resolves configuration from the process environment (and, for the
// database connection only, an optional INI file) using viper.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("RECONCILER_TRIES", 4)

	rpcEndpoint := v.GetString("RPC_ENDPOINT")
	if rpcEndpoint == "" {
		return Config{}, errors.New("config: RPC_ENDPOINT is required")
	}

	remoteSignerURL := v.GetString("REMOTE_SIGNER_URL")
	relayerAddress := v.GetString("RELAYER_ADDRESS")

	var secretKey string
	if remoteSignerURL == "" {
		var err error
		secretKey, err = resolveSecretKey(v)
		if err != nil {
			return Config{}, err
		}
	} else if relayerAddress == "" {
		return Config{}, errors.New("config: RELAYER_ADDRESS is required when REMOTE_SIGNER_URL is set")
	}

	dbURL, err := resolveDatabaseURL(v)
	if err != nil {
		return Config{}, err
	}

	return Config{
		RPCEndpoint:     rpcEndpoint,
		SecretKey:       secretKey,
		RemoteSignerURL: remoteSignerURL,
		RelayerAddress:  relayerAddress,
		LogLevel:        v.GetString("LOG_LEVEL"),
		DatabaseURL:     dbURL,
		HTTPAddr:        v.GetString("HTTP_ADDR"),
		ReconcilerTries: v.GetInt("RECONCILER_TRIES"),
	}, nil
}

// resolveSecretKey mirrors config.py: if SECRET_KEY_CMD is set, run it and
// take its trimmed stdout as the key; otherwise read SECRET_KEY directly.
// Only called when REMOTE_SIGNER_URL is unset — a remote signer holds its
// own key material and never needs one here.
func resolveSecretKey(v *viper.Viper) (string, error) {
	if cmdline := v.GetString("SECRET_KEY_CMD"); cmdline != "" {
		parts := strings.Fields(cmdline)
		cmd := exec.Command(parts[0], parts[1:]...)
		var out bytes.Buffer
		cmd.Stdout = &out
		if err := cmd.Run(); err != nil {
			return "", errors.Wrap(err, "config: SECRET_KEY_CMD failed")
		}
		key := strings.TrimSpace(out.String())
		if key == "" {
			return "", errors.New("config: SECRET_KEY_CMD produced no output")
		}
		return key, nil
	}
	key := v.GetString("SECRET_KEY")
	if key == "" {
		return "", errors.New("config: SECRET_KEY, SECRET_KEY_CMD, or REMOTE_SIGNER_URL is required")
	}
	return key, nil
}

// resolveDatabaseURL returns DATABASE_URL verbatim when set, else builds a
// postgres DSN from a sectioned database.ini (section [postgresql]).
func resolveDatabaseURL(v *viper.Viper) (string, error) {
	if url := v.GetString("DATABASE_URL"); url != "" {
		return url, nil
	}

	ini := viper.New()
	ini.SetConfigFile("database.ini")
	ini.SetConfigType("ini")
	if err := ini.ReadInConfig(); err != nil {
		return "", errors.Wrap(err, "config: no DATABASE_URL and no database.ini")
	}
	section := ini.Sub("postgresql")
	if section == nil {
		return "", errors.New("config: database.ini has no [postgresql] section")
	}
	host := section.GetString("host")
	user := section.GetString("user")
	password := section.GetString("password")
	dbname := section.GetString("database")
	port := section.GetString("port")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, dbname), nil
}
