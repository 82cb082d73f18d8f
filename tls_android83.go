package myq

import (
	"github.com/bogdanfinn/fhttp/http2"
	"github.com/bogdanfinn/tls-client/profiles"
	tls "github.com/bogdanfinn/utls"
)

const (
	// The provider's mobile login flow is served to the Android app's
	// embedded WebView, so the scrape presents the matching UA pair.
	AndroidChrome83UserAgent = "Mozilla/5.0 (Linux; Android 11; sdk_gphone_x86) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/83.0.4103.106 Mobile Safari/537.36"
	AndroidAPIUserAgent      = "sdk_gphone_x86/Android 11"
)

// AndroidChrome83Profile is the browser profile matching the app WebView.
var AndroidChrome83Profile = &BrowserProfile{
	UserAgent:    AndroidChrome83UserAgent,
	APIUserAgent: AndroidAPIUserAgent,
}

func GetAndroidChrome83Spec() (tls.ClientHelloSpec, error) {
	return tls.ClientHelloSpec{
		CipherSuites: []uint16{
			tls.GREASE_PLACEHOLDER,
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
			tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
			tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_RSA_WITH_AES_128_CBC_SHA,
			tls.TLS_RSA_WITH_AES_256_CBC_SHA,
		},
		CompressionMethods: []byte{
			tls.CompressionNone,
		},
		Extensions: []tls.TLSExtension{
			&tls.UtlsGREASEExtension{},
			// 0 - server_name (SNI)
			&tls.SNIExtension{},
			// 23 - extended_master_secret
			&tls.ExtendedMasterSecretExtension{},
			// 65281 - renegotiation_info
			&tls.RenegotiationInfoExtension{
				Renegotiation: tls.RenegotiateOnceAsClient,
			},
			// 10 - supported_groups
			&tls.SupportedCurvesExtension{
				Curves: []tls.CurveID{
					tls.CurveID(tls.GREASE_PLACEHOLDER),
					tls.X25519,
					tls.CurveP256,
					tls.CurveP384,
				},
			},
			// 11 - ec_point_formats
			&tls.SupportedPointsExtension{
				SupportedPoints: []byte{
					tls.PointFormatUncompressed,
				},
			},
			// 35 - session_ticket
			&tls.SessionTicketExtension{},
			// 16 - application_layer_protocol_negotiation
			&tls.ALPNExtension{
				AlpnProtocols: []string{
					"h2",
					"http/1.1",
				},
			},
			// 5 - status_request (OCSP stapling)
			&tls.StatusRequestExtension{},
			// 13 - signature_algorithms
			&tls.SignatureAlgorithmsExtension{
				SupportedSignatureAlgorithms: []tls.SignatureScheme{
					tls.ECDSAWithP256AndSHA256,
					tls.PSSWithSHA256,
					tls.PKCS1WithSHA256,
					tls.ECDSAWithP384AndSHA384,
					tls.PSSWithSHA384,
					tls.PKCS1WithSHA384,
					tls.PSSWithSHA512,
					tls.PKCS1WithSHA512,
				},
			},
			// 18 - signed_certificate_timestamp
			&tls.SCTExtension{},
			// 51 - key_share
			&tls.KeyShareExtension{
				KeyShares: []tls.KeyShare{
					{Group: tls.CurveID(tls.GREASE_PLACEHOLDER), Data: []byte{0}},
					{Group: tls.X25519},
				},
			},
			// 45 - psk_key_exchange_modes
			&tls.PSKKeyExchangeModesExtension{
				Modes: []uint8{
					tls.PskModeDHE,
				},
			},
			// 43 - supported_versions
			&tls.SupportedVersionsExtension{
				Versions: []uint16{
					tls.GREASE_PLACEHOLDER,
					tls.VersionTLS13,
					tls.VersionTLS12,
				},
			},
			// 27 - compress_certificate
			&tls.UtlsCompressCertExtension{
				Algorithms: []tls.CertCompressionAlgo{
					tls.CertCompressionBrotli,
				},
			},
			&tls.UtlsGREASEExtension{},
			// 21 - padding, must be last before PSK
			&tls.UtlsPaddingExtension{GetPaddingLen: tls.BoringPaddingStyle},
		},
	}, nil
}

func GetAndroidChrome83ClientHelloID() tls.ClientHelloID {
	return tls.ClientHelloID{
		Client:               "Chrome",
		RandomExtensionOrder: false,
		Version:              "83",
		Seed:                 nil,
		SpecFactory:          GetAndroidChrome83Spec,
	}
}

var androidChrome83Profile = profiles.NewClientProfile(
	GetAndroidChrome83ClientHelloID(),
	map[http2.SettingID]uint32{
		http2.SettingHeaderTableSize:      65536,
		http2.SettingMaxConcurrentStreams: 1000,
		http2.SettingInitialWindowSize:    6291456,
		http2.SettingMaxHeaderListSize:    262144,
	},
	[]http2.SettingID{
		http2.SettingHeaderTableSize,
		http2.SettingMaxConcurrentStreams,
		http2.SettingInitialWindowSize,
		http2.SettingMaxHeaderListSize,
	},
	[]string{
		":method",
		":authority",
		":scheme",
		":path",
	},
	15663105,
	nil, // No priority frames for Chrome
	nil, // No header priorities
)

func init() {
	AndroidChrome83Profile.TLSProfile = androidChrome83Profile
}
