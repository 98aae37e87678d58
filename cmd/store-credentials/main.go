package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/betbot/tradestream/pkg/secretstore"
)

// 把 .env 中的登录凭证写入密钥库（session/<id>/login、session/<id>/password）
func main() {
	var (
		inPath      = flag.String("in", ".env", "input .env file path")
		dbPath      = flag.String("badger", getenv("SECRET_STORE_PATH", "data/secrets.badger"), "badger secrets db path")
		secretKey   = flag.String("secret-key", getenv("SECRET_STORE_KEY", ""), "badger encryption key (32 bytes base64/hex)")
		sessionID   = flag.String("session", getenv("SESSION_ID", ""), "session id the credentials belong to")
		clearTokens = flag.Bool("clear-tokens", false, "also delete persisted access/refresh tokens")
	)
	flag.Parse()

	if strings.TrimSpace(*sessionID) == "" {
		fatal(fmt.Errorf("session id is required: set SESSION_ID or pass -session"))
	}
	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}

	kv, err := godotenv.Read(*inPath)
	if err != nil {
		fatal(err)
	}
	login, password := kv["BROKER_LOGIN"], kv["BROKER_PASSWORD"]
	if login == "" || password == "" {
		fatal(fmt.Errorf("%s 缺少 BROKER_LOGIN / BROKER_PASSWORD", *inPath))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
	})
	if err != nil {
		fatal(err)
	}

	err = store(ss, *sessionID, login, password, *clearTokens)
	if cerr := ss.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fatal(err)
	}

	fmt.Fprintf(os.Stderr, "已写入会话 %s 的登录凭证到 badger：%s\n", *sessionID, *dbPath)
}

func store(ss *secretstore.Store, sessionID, login, password string, clearTokens bool) error {
	values := map[string]string{"login": login, "password": password}
	for name, v := range values {
		if err := ss.SetString(secretstore.SessionKey(sessionID, name), v); err != nil {
			return err
		}
	}
	if clearTokens {
		for _, name := range []string{"access", "refresh"} {
			if err := ss.Delete(secretstore.SessionKey(sessionID, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
