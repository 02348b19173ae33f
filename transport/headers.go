package transport

import (
	"net/http"
	"strconv"

	"github.com/jmcleod/ironwire/internal/util"
	"github.com/jmcleod/ironwire/state"
)

// DefaultHeaders builds the header set the official client sends with every
// request. The result is freshly allocated on each call.
func DefaultHeaders(st *state.State) http.Header {
	consts := st.Constants()
	device := st.Device()
	locale := st.Locale()
	lang := locale.Language

	h := make(http.Header, 26)
	h.Set("User-Agent", st.UserAgent())
	h.Set("X-IG-App-Locale", lang)
	h.Set("X-IG-Device-Locale", lang)
	h.Set("X-IG-Mapped-Locale", lang)
	h.Set("X-Pigeon-Session-Id", st.PigeonSessionID())
	h.Set("X-Pigeon-Rawclienttime", strconv.FormatFloat(float64(st.Now().UnixMilli())/1000, 'f', 3, 64))
	h.Set("X-IG-Connection-Speed", "-1kbps")
	h.Set("X-IG-Bandwidth-Speed-KBPS", "-1.000")
	h.Set("X-IG-Bandwidth-TotalBytes-B", "0")
	h.Set("X-IG-Bandwidth-TotalTime-MS", "0")
	h.Set("X-IG-App-Startup-Country", consts.StartupCountry)
	h.Set("X-Bloks-Version-Id", consts.BloksVersionID)
	h.Set("X-IG-WWW-Claim", st.Claim())
	h.Set("X-Bloks-Is-Layout-RTL", strconv.FormatBool(locale.IsLayoutRTL))
	h.Set("X-IG-Device-ID", device.UUID)
	h.Set("X-IG-Android-ID", device.DeviceID)
	h.Set("X-IG-Connection-Type", locale.ConnectionTypeHeader)
	h.Set("X-IG-Capabilities", locale.CapabilitiesHeader)
	h.Set("X-IG-App-ID", consts.FBAnalyticsAppID)
	h.Set("X-IG-Timezone-Offset", strconv.Itoa(locale.TimezoneOffset))
	if mid, ok := st.Cookie(state.CookieMID); ok && mid != "" {
		h.Set("X-MID", mid)
	}
	h.Set("Accept-Language", util.LanguageTag(lang))
	if auth := st.Authorization(); auth != "" {
		h.Set("Authorization", auth)
	}
	h.Set("Host", consts.Host)
	h.Set("Accept-Encoding", "gzip")
	return h
}
