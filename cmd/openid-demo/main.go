// Command openid-demo wires the RP engine behind net/http, exposing a
// /login endpoint that kicks off authentication and a /callback endpoint
// that completes it.
//
// Configure via openid-demo.yaml in the working directory, or environment
// variables prefixed OPENID_DEMO_ (e.g. OPENID_DEMO_LISTEN_ADDR):
//
//	listen_addr: ":8080"
//	return_to: "http://localhost:8080/callback"
//	realm: "http://localhost:8080"
package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	openid "github.com/esskar/protocol-openid"
	"github.com/esskar/protocol-openid/store"
)

type config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	ReturnTo   string `mapstructure:"return_to"`
	Realm      string `mapstructure:"realm"`
}

func loadConfig() (*config, error) {
	v := viper.New()
	v.SetConfigName("openid-demo")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("OPENID_DEMO")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("return_to", "http://localhost:8080/callback")
	v.SetDefault("realm", "http://localhost:8080")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	var c config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func main() {
	level := slog.LevelInfo
	if lvl, err := strconv.Atoi(os.Getenv("PROTOCOL_OPENID_DEBUG")); err == nil && lvl > 0 {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	assocStore, err := store.New(1024)
	if err != nil {
		logger.Error("create association store", "err", err)
		os.Exit(1)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}

	newRP := func() *openid.RP {
		rp := openid.New(cfg.ReturnTo, fetcher(httpClient))
		rp.Realm = cfg.Realm
		rp.Store = assocStore.Store
		rp.Find = assocStore.Find
		rp.Remove = assocStore.Remove
		return rp
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login", loginHandler(newRP, logger))
	mux.HandleFunc("/callback", callbackHandler(newRP, logger))

	logger.Info("listening", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		logger.Error("serve", "err", err)
		os.Exit(1)
	}
}

func loginHandler(newRP func() *openid.RP, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := openid.NewParameters()
		params.Set("openid_identifier", r.URL.Query().Get("openid_identifier"))

		outcome, err := newRP().Authenticate(r.Context(), params)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		switch outcome.Kind {
		case openid.OutcomeRedirect:
			u, _ := url.Parse(outcome.RedirectURL)
			q := u.Query()
			for k, v := range outcome.RedirectParams {
				q.Set(k, v)
			}
			u.RawQuery = q.Encode()
			http.Redirect(w, r, u.String(), http.StatusFound)
		default:
			logger.Warn("login failed", "outcome", outcome.Kind, "err", outcome.Err)
			http.Error(w, "could not start authentication", http.StatusBadGateway)
		}
	}
}

func callbackHandler(newRP func() *openid.RP, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		query := map[string][]string(r.Form)
		for k, v := range r.URL.Query() {
			query[k] = v
		}
		params := openid.ParseForm(query)

		outcome, err := newRP().Authenticate(r.Context(), params)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		switch outcome.Kind {
		case openid.OutcomeVerified:
			io.WriteString(w, "verified: "+outcome.ClaimedID)
		case openid.OutcomeCancel:
			http.Error(w, "login cancelled", http.StatusForbidden)
		default:
			logger.Warn("callback failed", "outcome", outcome.Kind, "err", outcome.Err)
			http.Error(w, "authentication failed", http.StatusForbidden)
		}
	}
}

// fetcher adapts *http.Client to openid.HTTPFetcher.
func fetcher(client *http.Client) openid.HTTPFetcher {
	return func(ctx context.Context, method, rawURL string, params map[string]string) (int, string, map[string][]string, error) {
		var req *http.Request
		var err error

		if method == "POST" {
			form := url.Values{}
			for k, v := range params {
				form.Set(k, v)
			}
			req, err = http.NewRequestWithContext(ctx, "POST", rawURL, strings.NewReader(form.Encode()))
			if err == nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
		} else {
			req, err = http.NewRequestWithContext(ctx, "GET", rawURL, nil)
		}
		if err != nil {
			return 0, "", nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			return 0, "", nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return 0, "", nil, err
		}
		return resp.StatusCode, string(body), resp.Header, nil
	}
}
