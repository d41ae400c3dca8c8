package coordinator

import (
	"github.com/smartlock-go/ptlslock/internal/cloud"
	"github.com/smartlock-go/ptlslock/internal/store"
)

func certificateUpdate(cert cloud.Certificate, userMap cloud.UserMap) store.Update {
	expires := cert.ExpirationDate
	return store.Update{
		Certificate:        cert.Raw,
		CertificateExpires: &expires,
		DevicePublicKey:    cert.DevicePublicKey,
		UserMap:            userMap,
	}
}

func signedTimeUpdate(signed cloud.SignedTime) store.Update {
	return store.Update{
		SignedTimeDateTime: signed.DateTime,
		SignedTimeSig:      signed.Signature,
	}
}

func userMapUpdate(userMap cloud.UserMap) store.Update {
	return store.Update{UserMap: userMap}
}
