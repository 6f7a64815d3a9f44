package encryption

import (
	"bytes"
	"context"
	"fmt"
	"os"
)

// readPEMFile read a PEM file, rejecting files without any PEM block
func readPEMFile(label, filePath string) (string, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("%s file %s unreadable [%w]", label, filePath, err)
	}
	if !bytes.Contains(content, []byte("-----BEGIN ")) {
		return "", fmt.Errorf("%s file %s holds no PEM block", label, filePath)
	}
	return string(content), nil
}

/*
loadRSAKeyPair load the primary RSA key pair which wraps the data encryption keys

	@param ctx context.Context - execution context
	@param certFilePath string - x509 certificate PEM
	@param keyFilePath string - RSA private key PEM
*/
func (e *cryptoEngine) loadRSAKeyPair(
	ctx context.Context, certFilePath string, keyFilePath string,
) error {
	certPEM, err := readPEMFile("certificate", certFilePath)
	if err != nil {
		return err
	}
	keyPEM, err := readPEMFile("private key", keyFilePath)
	if err != nil {
		return err
	}

	cert, err := e.crypto.ParseCertificateFromPEM(ctx, certPEM)
	if err != nil {
		return fmt.Errorf("certificate %s parse failed [%w]", certFilePath, err)
	}
	pubKey, err := e.crypto.ReadRSAPublicKeyFromCert(ctx, cert)
	if err != nil {
		return fmt.Errorf("certificate %s carries no usable RSA public key [%w]", certFilePath, err)
	}
	privKey, err := e.crypto.ParseRSAPrivateKeyFromPEM(ctx, keyPEM)
	if err != nil {
		return fmt.Errorf("private key %s parse failed [%w]", keyFilePath, err)
	}

	if pubKey.E != privKey.E || pubKey.N.Cmp(privKey.N) != 0 {
		return fmt.Errorf("certificate %s and private key %s are not a pair", certFilePath, keyFilePath)
	}

	e.rsaPubKey, e.rsaKey = pubKey, privKey
	return nil
}
