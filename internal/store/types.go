package store

// AdQuery is a saved search together with its scheduler bookkeeping.
type AdQuery struct {
	AdQueryID  int64
	Nickname   string
	Query      string
	Filters    []string
	NextPull   int64
	LastPull   *int64
	LastError  *string
	LastNotify *int64
}

// AdQueryRecord is an AdQuery as seen by a particular session: it carries
// whether that session's client is subscribed.
type AdQueryRecord struct {
	AdQueryID  int64
	Nickname   string
	Query      string
	Filters    []string
	Subscribed bool
}

// AdQueryStatus is an AdQueryRecord plus the scheduler metadata exposed by
// get_ad_query_status.
type AdQueryStatus struct {
	AdQueryRecord
	NextPull   int64
	LastPull   *int64
	LastError  *string
	LastNotify *int64
}

// PushSubscription is the browser-supplied endpoint/keys blob. A nil
// *PushSubscription means the client has no active subscription.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		Auth   string `json:"auth"`
		P256dh string `json:"p256dh"`
	} `json:"keys"`
}

// Client is a registered browser endpoint.
type Client struct {
	ClientID    int64
	VAPIDPub    []byte
	VAPIDPriv   []byte
	SessionHash string
	PushSub     *PushSubscription
	LastSeen    int64
}

// PushQueueItem is one durable outbound-notification work item.
type PushQueueItem struct {
	ID        int64
	ClientID  int64
	Message   string
	RetryTime int64
	Retries   int
}

// PushLeaseItem is the result of leasing the next due push queue entry: the
// item itself plus the client's current push subscription and VAPID
// private key, which the caller needs to actually send the notification.
type PushLeaseItem struct {
	PushQueueItem
	PushSub   *PushSubscription
	VAPIDPriv []byte
}

// AdContent is one stored ad under a given ad query.
type AdContent struct {
	AdQueryID   int64
	ID          string
	AccountName string
	AccountURL  string
	StartDate   int64
	LastSeen    int64
	TextHash    string
	Text        string
	Screenshot  []byte
}

// NotificationPayload is the canonical JSON body delivered to a browser
// client for a novel ad, per the wire contract in the notification
// endpoint.
type NotificationPayload struct {
	AdQueryID int64                 `json:"adQueryId"`
	Nickname  string                `json:"nickname"`
	Ad        NotificationPayloadAd `json:"ad"`
}

// NotificationPayloadAd is the ad summary embedded in a
// NotificationPayload. Text is truncated to 128 characters.
type NotificationPayloadAd struct {
	ID          string `json:"id"`
	AccountName string `json:"accountName"`
	AccountURL  string `json:"accountUrl"`
	Text        string `json:"text"`
}
