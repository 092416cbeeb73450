// Package mail carries envelopes between accounts as ordinary mail messages.
//
// Every protocol message is a multipart/mixed mail with one JSON attachment.
// The subject line routes the message ("[IMAPSN] friend-request: Alice") and
// the attachment name identifies the payload ("friend-request.json").
//
// Render produces the RFC 5322 bytes; ParseMessage reads them back through
// the mailhog MIME parser. Two Transports are provided: SMTPTransport sends
// through a submission server with a rate limit on fan-out, LocalDelivery
// appends straight into the inbox Mailbox of accounts on the same host.
package mail
