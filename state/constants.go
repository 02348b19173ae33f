package state

import "time"

// Constants describes the official client build being mimicked. The values
// are embedded in every snapshot so a restored session keeps signing with the
// build it logged in with.
type Constants struct {
	Host             string `json:"host"`
	AppVersion       string `json:"appVersion"`
	AppVersionCode   string `json:"appVersionCode"`
	SignatureKey     string `json:"signatureKey"`
	SignatureVersion string `json:"signatureVersion"`
	BreadcrumbKey    string `json:"breadcrumbKey"`
	FBAnalyticsAppID string `json:"fbAnalyticsApplicationId"`
	BloksVersionID   string `json:"bloksVersionId"`
	LoginExperiments string `json:"loginExperiments"`
	StartupCountry   string `json:"startupCountry"`
}

const (
	DefaultSeed             = "instagram-private-api"
	DefaultDeviceString     = "26/8.0.0; 480dpi; 1080x1920; samsung; SM-G930F; herolte; samsungexynos8890"
	DefaultBuild            = "OPM7.181205.001"
	DefaultLanguage         = "en_US"
	DefaultCapabilities     = "3brTv10="
	DefaultConnectionType   = "WIFI"
	DefaultRadioType        = "wifi-none"
	DefaultThumbnailBusting = 1000

	// DefaultGUIDLifetime is the bucket width of the client and pigeon session ids.
	DefaultGUIDLifetime = 20 * time.Minute

	// MissingCSRFToken is sent in place of the csrftoken cookie before the
	// server has issued one.
	MissingCSRFToken = "missing"

	// BearerPrefix marks the only authorization format that carries an
	// embedded, parseable payload.
	BearerPrefix = "Bearer IGT:2:"

	CookieCSRFToken = "csrftoken"
	CookieUserID    = "ds_user_id"
	CookieUsername  = "ds_user"
	CookieSessionID = "sessionid"
	CookieMID       = "mid"
)

// DefaultConstants returns the constants of the Android build the client
// impersonates by default.
func DefaultConstants() Constants {
	return Constants{
		Host:             "i.instagram.com",
		AppVersion:       "222.0.0.13.114",
		AppVersionCode:   "350696709",
		SignatureKey:     "9193488027538fd3450b83b7d05286d4ca9599a0f7eeed90d8c85925698a05dc",
		SignatureVersion: "4",
		BreadcrumbKey:    "iN4$aGr0m",
		FBAnalyticsAppID: "567067343352427",
		BloksVersionID:   "1b030ce63a06c25f3e4de6aaaf6802fe1e76401bc5ab6e5fb85ed6c2d333e0c7",
		LoginExperiments: "ig_android_fci_onboarding_friend_search,ig_android_device_detection_info_upload,ig_android_sms_retriever_backtest_universe,ig_android_direct_add_direct_to_android_native_photo_share_sheet,ig_android_login_identifier_fuzzy_match,ig_android_push_fcm,ig_android_email_fuzzy_matching_universe,ig_android_smartlock_hints_universe,ig_android_account_switch_infra_universe,ig_android_multi_tap_login_new,ig_android_passwordless_auth,ig_android_security_intent_switchoff",
		StartupCountry:   "US",
	}
}
