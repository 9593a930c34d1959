package metrics

// NoopSink descarta todas as métricas
type NoopSink struct{}

func (NoopSink) RateLimitDenied(string)    {}
func (NoopSink) StoreQuotaExceeded(string) {}
func (NoopSink) StoreDegraded(string)      {}
func (NoopSink) CaptchaRequired()          {}
func (NoopSink) AccountLocked()            {}
