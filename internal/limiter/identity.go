package limiter

import (
	"net"
	"net/netip"
	"strings"

	"storefront-guard/internal/domain"
)

// ipv6PrefixBits agrupa endereços IPv6 por /64, a menor rede de um cliente
const ipv6PrefixBits = 64

const anonymousIdentity = "anonymous"

// BuildKey compõe {keyPrefix}:{scope}:{identity}
func BuildKey(keyPrefix, scope, identity string) string {
	return keyPrefix + ":" + scope + ":" + identity
}

// ClientIdentity prefere o IP normalizado e cai para o correlation id.
// Nunca retorna vazio: requisições sem identidade compartilham um contador.
func ClientIdentity(id domain.RequestIdentity) string {
	if ip := NormalizeIP(id.IP); ip != "" {
		return ip
	}
	if cid := strings.TrimSpace(id.CorrelationID); cid != "" {
		return "cid:" + cid
	}
	return anonymousIdentity
}

// NormalizeIP remove porta e zona, desfaz IPv4 mapeado em IPv6 e reduz
// IPv6 ao prefixo /64. Retorna vazio se raw não for um IP.
func NormalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return ""
	}
	addr = addr.WithZone("").Unmap()
	if addr.Is4() {
		return addr.String()
	}

	prefix, err := addr.Prefix(ipv6PrefixBits)
	if err != nil {
		return addr.String()
	}
	return prefix.String()
}
