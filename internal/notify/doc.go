// Package notify delivers reminder, missed-dose, adherence and low-inventory
// notices.
//
// A Notice is a closed set of typed variants; each one knows its recipients
// and template data. The Dispatcher renders a notice once and sends it to every
// recipient through a Gateway, with rate limiting, retry with jittered backoff
// and a delivery history. Delivery failures are reported, never raised past
// the caller's loop.
//
// Gateways are selected by address scheme through a Router:
//
//	tg:<chat id>        Telegram bot message
//	fcm:<device token>  Firebase Cloud Messaging push
//	mailto:<addr>, bare addresses containing "@"  SMTP email
package notify
