// nexus-relay - Assistant-backed SMS relay
// Copyright (C) 2026  nexus contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.

// relay receives SMS webhooks from Twilio and OpenPhone (via Zapier), asks a
// hosted assistant for a reply, logs the exchange and sends the reply back
// through the channel it came from.
//
//	relay serve      run the webhook server
//	relay notifier   run the message-log notifier endpoint
//	relay consume    forward message-log events from Kafka to the notifier webhook
//	relay token      issue a bearer token for the internal endpoints
//	relay history    print a phone number's conversation as YAML
package main

func main() {
	Execute()
}
