package portal

import (
	"net/url"
	"strings"

	"github.com/muurk/drowsiwatch/internal/credentials"
)

// ParseSubmission extracts credentials from a raw portal request.
//
// Portal pages already deployed submit "GET /?ssid=<ssid>&password=<pw> HTTP/1.1",
// and this parser reads exactly that shape rather than doing full form
// decoding: the request must mention both "ssid" and "password"; the SSID
// runs from "ssid=" to the next '&' (or the end), the password from
// "password=" to the next space (or the end). Each value is then
// percent-decoded, keeping the raw text if it is not valid escaping.
// Empty values do not count as a submission.
func ParseSubmission(raw string) (credentials.WiFiCredentials, bool) {
	if !strings.Contains(raw, "ssid") || !strings.Contains(raw, "password") {
		return credentials.WiFiCredentials{}, false
	}

	ssid, ok := valueAfter(raw, "ssid=", "&")
	if !ok {
		return credentials.WiFiCredentials{}, false
	}
	password, ok := valueAfter(raw, "password=", " ")
	if !ok {
		return credentials.WiFiCredentials{}, false
	}

	creds := credentials.WiFiCredentials{
		SSID:     unescape(ssid),
		Password: unescape(password),
	}
	if !creds.Valid() {
		return credentials.WiFiCredentials{}, false
	}
	return creds, true
}

// valueAfter returns the text between key and the next terminator.
func valueAfter(raw, key, terminator string) (string, bool) {
	i := strings.Index(raw, key)
	if i < 0 {
		return "", false
	}
	value := raw[i+len(key):]
	if end := strings.Index(value, terminator); end >= 0 {
		value = value[:end]
	}
	return value, true
}

func unescape(value string) string {
	decoded, err := url.QueryUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}
