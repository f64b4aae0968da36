package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/roomgate/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	IPRate          rate.Limit    // 送信元IPごとのレート（req/sec）。600/60 = 10 req/sec
	IPBurst         int           // 送信元IPごとのバーストサイズ
	IdentityRate    rate.Limit    // チャット利用者ごとのレート（msg/sec）。30/60
	IdentityBurst   int           // チャット利用者ごとのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 送信元IP 600 req/min、利用者 30 msg/min
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PerMinuteConfig(600, 30)
}

// PerMinuteConfig は1分あたりの上限からRateLimiterConfigを生成する。
// バーストは1分あたりの上限と同じにする。
func PerMinuteConfig(perIP, perIdentity int) RateLimiterConfig {
	return RateLimiterConfig{
		IPRate:          rate.Limit(float64(perIP) / 60.0),
		IPBurst:         perIP,
		IdentityRate:    rate.Limit(float64(perIdentity) / 60.0),
		IdentityBurst:   perIdentity,
		CleanupInterval: 5 * time.Minute,
	}
}

// maxRetryAfterSec はRetry-Afterヘッダーの上限秒数。
const maxRetryAfterSec = 60

// keyLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet はキーごとのリミッターの集合。
type limiterSet struct {
	mu       sync.RWMutex
	limiters map[string]*keyLimiter
	rate     rate.Limit
	burst    int
}

func newLimiterSet(r rate.Limit, burst int) *limiterSet {
	return &limiterSet{limiters: make(map[string]*keyLimiter), rate: r, burst: burst}
}

// get はキーのリミッターを取得または作成する。
func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.RLock()
	kl, exists := s.limiters[key]
	s.mu.RUnlock()

	if exists {
		s.mu.Lock()
		kl.lastAccess = time.Now()
		s.mu.Unlock()
		return kl.limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// ダブルチェック
	if kl, exists := s.limiters[key]; exists {
		kl.lastAccess = time.Now()
		return kl.limiter
	}

	limiter := rate.NewLimiter(s.rate, s.burst)
	s.limiters[key] = &keyLimiter{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

func (s *limiterSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

// evict は最終アクセス時刻がttlを超えたエントリを削除する。
func (s *limiterSet) evict(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, kl := range s.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(s.limiters, key)
		}
	}
}

// RateLimiter は送信元IPごとと利用者ごとのレート制限を管理する。
type RateLimiter struct {
	config     RateLimiterConfig
	ip         *limiterSet
	identities *limiterSet
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:     config,
		ip:         newLimiterSet(config.IPRate, config.IPBurst),
		identities: newLimiterSet(config.IdentityRate, config.IdentityBurst),
		stopCh:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// IPMiddleware は送信元IPごとのレート制限ミドルウェアを返す。
// chiのRealIPミドルウェアの後に配置するとプロキシ越しの送信元で制限できる。
func (rl *RateLimiter) IPMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.ip.get(ip).Allow() {
				writeRateLimitResponse(w, rl.config.IPRate)
				slog.Warn("rate limit exceeded",
					slog.String("ip", ip),
					slog.String("limit_type", "ip"),
				)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AllowIdentity はチャット利用者がメッセージを処理できるかを返す。
// Webhookはバッチで届くためHTTPではなくイベント単位で判定する。
func (rl *RateLimiter) AllowIdentity(identity string) bool {
	if rl.identities.get(identity).Allow() {
		return true
	}
	slog.Warn("rate limit exceeded",
		slog.String("identity", identity),
		slog.String("limit_type", "identity"),
	)
	return false
}

// IPLimiterCount は現在管理されているIPリミッターのエントリ数を返す。テスト用。
func (rl *RateLimiter) IPLimiterCount() int {
	return rl.ip.len()
}

// IdentityLimiterCount は現在管理されている利用者リミッターのエントリ数を返す。テスト用。
func (rl *RateLimiter) IdentityLimiterCount() int {
	return rl.identities.len()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()
	rl.ip.evict(now, ttl)
	rl.identities.evict(now, ttl)
}

// clientIP はRemoteAddrからポートを除いたIPを返す。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(r)))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}

// retryAfterSeconds は1トークンが補充されるまでの秒数を1以上maxRetryAfterSec以下で返す。
// 補充されない設定（r<=0）ではmaxRetryAfterSecを返す。
func retryAfterSeconds(r rate.Limit) int {
	switch {
	case r == rate.Inf:
		return 1
	case r <= 0:
		return maxRetryAfterSec
	}
	sec := math.Ceil(1.0 / float64(r))
	if sec > maxRetryAfterSec {
		return maxRetryAfterSec
	}
	if sec < 1 {
		return 1
	}
	return int(sec)
}
