package notify

import "clausewise.app/analyzer/common/resilience"

type NATSPublisher = natsPublisher

func NewNATSNotifierWithConn(conn NATSPublisher, guard *resilience.Guard) *NATSNotifier {
	return &NATSNotifier{conn: conn, guard: guard}
}

var ClassifyNATSError = classifyNATSError
