package eventsource

// Microsoft-Windows-DNS-Client provider.
const dnsClientProviderGUID = "{1C95126E-7EEA-49A9-A3FE-A378B03DDB4D}"

// Event 3006 is "DNS query request".
const dnsQueryRequestEventID = 3006

// Property layout produced by the etw source.
const (
	etwProcessIDIndex = iota
	etwQueryNameIndex
	etwImagePathIndex
)

// maxBufferedETWEvents bounds memory between two Events calls.
const maxBufferedETWEvents = 100000
