package middlewares

import (
	"net/http"
	"sync"

	"consogab/config"
	"consogab/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg config.RateConfig
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// RateLimit bounds requests per authenticated user, falling back to the
// client address before authentication.
func RateLimit(cfg config.RateConfig) gin.HandlerFunc {
	pool := &limiterPool{cfg: cfg}
	return func(c *gin.Context) {
		key := c.GetString("user_id")
		if key == "" {
			key = c.ClientIP()
		}
		if !pool.Allow(key) {
			utils.RespondError(c, http.StatusTooManyRequests, "too many requests")
			return
		}
		c.Next()
	}
}
