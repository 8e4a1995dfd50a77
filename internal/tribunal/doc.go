// Package tribunal stages the adversarial debate that ends every fraud
// review: a prosecution arguing to deny, a defense arguing to approve,
// and an arbiter weighing both into the case's single final verdict.
package tribunal
