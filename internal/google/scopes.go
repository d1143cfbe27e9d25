package google

// GmailReadonlyScope is the only scope this service requests or stores.
// The backend reads mail for classification; it never sends or modifies.
const GmailReadonlyScope = "https://www.googleapis.com/auth/gmail.readonly"
